package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stripe/stripe-go/v79"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/catalog"
	"github.com/platinummonkey/tariff/pkg/config"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/ratelimit"
	"github.com/platinummonkey/tariff/pkg/storage"
	"github.com/platinummonkey/tariff/pkg/storage/postgres"
)

const (
	poolCheckInterval = 30 * time.Second
	refreshTimeout    = 30 * time.Second
)

// dependencies builds the backends selected by configuration and remembers
// how to release them
type dependencies struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	checker *observability.HealthChecker

	conns  *postgres.ConnectionManager
	redis  *postgres.RedisClient
	closer []namedCloser
}

type namedCloser struct {
	name string
	fn   observability.ShutdownFunc
}

func (d *dependencies) onClose(name string, fn observability.ShutdownFunc) {
	d.closer = append(d.closer, namedCloser{name: name, fn: fn})
}

// registerShutdown hands every resource to the shutdown manager
func (d *dependencies) registerShutdown(sm *observability.ShutdownManager) {
	for _, c := range d.closer {
		sm.Register(c.name, c.fn)
	}
	d.closer = nil
}

// close releases resources not yet handed to a shutdown manager, newest first
func (d *dependencies) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(d.closer) - 1; i >= 0; i-- {
		if err := d.closer[i].fn(ctx); err != nil {
			d.logger.WithError(err).WithField("component", d.closer[i].name).Warn("close failed")
		}
	}
	d.closer = nil
}

func (d *dependencies) postgresConns(ctx context.Context) (*postgres.ConnectionManager, error) {
	if d.conns != nil {
		return d.conns, nil
	}

	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(d.cfg.Storage), d.logger.WithField("component", "postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	d.onClose("postgres", func(context.Context) error { return conns.Close() })

	if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}

	d.checker.AddCheck("postgres", true, observability.DatabaseCheck(conns.Primary()))
	conns.StartHealthCheckRoutine(ctx, poolCheckInterval, d.metrics)
	d.conns = conns
	return conns, nil
}

func (d *dependencies) redisClient() (*postgres.RedisClient, error) {
	if d.redis != nil {
		return d.redis, nil
	}

	client, err := postgres.NewRedisClient(d.cfg.Storage)
	if err != nil {
		return nil, err
	}
	d.onClose("redis", func(context.Context) error { return client.Close() })
	d.checker.AddCheck("redis", true, observability.RedisCheck(client.GetClient()))
	d.redis = client
	return client, nil
}

// priceLookup builds the configured price source behind the L1 and optional
// Redis caches. Catalog reloads invalidate both cache tiers for changed ids.
func (d *dependencies) priceLookup(ctx context.Context) (billing.PriceLookup, error) {
	var (
		base billing.PriceLookup
		cat  *catalog.Catalog
	)

	switch d.cfg.Storage.PriceSource {
	case storage.PriceSourcePostgres:
		conns, err := d.postgresConns(ctx)
		if err != nil {
			return nil, err
		}
		base = postgres.NewPriceStore(conns, d.metrics)
	case storage.PriceSourceCatalog:
		var err error
		cat, err = d.catalog(ctx)
		if err != nil {
			return nil, err
		}
		base = cat
	default:
		return nil, fmt.Errorf("unknown price source %q", d.cfg.Storage.PriceSource)
	}

	if !d.cfg.Storage.CacheEnabled {
		return base, nil
	}

	var l2 *postgres.RedisCachedLookup
	if d.cfg.Storage.RedisURL != "" {
		client, err := d.redisClient()
		if err != nil {
			return nil, err
		}
		l2 = postgres.NewRedisCachedLookup(base, client, d.metrics, d.logger.WithField("component", "price_cache"))
		base = l2
	}

	l1 := storage.NewCachedLookup(base, d.cfg.Storage.L1CacheSize, d.cfg.Storage.TTL("price", time.Minute), d.metrics)

	if cat != nil {
		cat.OnReload(func(changed []string) {
			l1.Invalidate(changed...)
			if l2 == nil {
				return
			}
			invCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l2.Invalidate(invCtx, changed...); err != nil {
				d.logger.WithError(err).Warn("failed to invalidate cached prices")
			}
		})
	}

	return l1, nil
}

// catalog loads the price catalog from disk or S3 and keeps it fresh
func (d *dependencies) catalog(ctx context.Context) (*catalog.Catalog, error) {
	logger := d.logger.WithField("component", "catalog")

	if d.cfg.Storage.IsS3Catalog() {
		src, err := catalog.NewS3Source(ctx, d.cfg.Storage)
		if err != nil {
			return nil, err
		}
		cat, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog from s3: %w", err)
		}

		scheduler := cron.New()
		_, err = scheduler.AddFunc(d.cfg.Storage.CatalogRefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()

			changed, err := src.Refresh(refreshCtx, cat)
			switch {
			case err != nil:
				logger.WithError(err).Error("catalog refresh failed, keeping previous prices")
			case changed:
				logger.WithField("prices", cat.Len()).Info("catalog refreshed")
			default:
				logger.Debug("catalog unchanged")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to schedule catalog refresh: %w", err)
		}
		scheduler.Start()
		d.onClose("catalog refresh", func(ctx context.Context) error {
			select {
			case <-scheduler.Stop().Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		logger.WithFields(map[string]interface{}{
			"path":     d.cfg.Storage.CatalogPath,
			"prices":   cat.Len(),
			"schedule": d.cfg.Storage.CatalogRefreshSchedule,
		}).Info("catalog loaded from s3")
		return cat, nil
	}

	cat, err := catalog.Load(d.cfg.Storage.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"path":   d.cfg.Storage.CatalogPath,
		"prices": cat.Len(),
	}).Info("catalog loaded")

	if d.cfg.Storage.CatalogWatch {
		watcher, err := catalog.NewWatcher(d.cfg.Storage.CatalogPath, cat, 0, logger)
		if err != nil {
			return nil, err
		}
		if err := watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to watch catalog: %w", err)
		}
		d.onClose("catalog watcher", func(context.Context) error {
			watcher.Stop()
			return nil
		})
	}
	return cat, nil
}

func (d *dependencies) resultStore(ctx context.Context) (billing.ResultStore, error) {
	switch d.cfg.Storage.Ledger {
	case storage.LedgerMemory:
		d.logger.Warn("commit ledger is in memory; results are lost on restart")
		return billing.NewMemoryResultStore(), nil
	case storage.LedgerPostgres:
		conns, err := d.postgresConns(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewResultStore(conns.Primary(), storage.LedgerPostgres, d.metrics), nil
	case storage.LedgerRedis:
		client, err := d.redisClient()
		if err != nil {
			return nil, err
		}
		return postgres.NewRedisResultStore(client, d.metrics), nil
	case storage.LedgerSQLite:
		db, err := postgres.OpenSQLite(ctx, d.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.onClose("sqlite", func(context.Context) error { return db.Close() })
		d.checker.AddCheck("sqlite", true, observability.DatabaseCheck(db))
		return postgres.NewResultStore(db, storage.LedgerSQLite, d.metrics), nil
	default:
		return nil, fmt.Errorf("unknown ledger %q", d.cfg.Storage.Ledger)
	}
}

// rateLimiters shares budgets through Redis when one is configured and keeps
// them in process otherwise
func (d *dependencies) rateLimiters(ctx context.Context) (general, commits ratelimit.Limiter, err error) {
	if d.cfg.Storage.RedisURL == "" {
		mem := ratelimit.NewMemoryLimiter(d.cfg.Server.RateLimit)
		memCommits := ratelimit.NewMemoryLimiter(d.cfg.Server.CommitRateLimit)
		mem.StartCleanup(ctx)
		memCommits.StartCleanup(ctx)
		return mem, memCommits, nil
	}

	client, err := d.redisClient()
	if err != nil {
		return nil, nil, err
	}
	prefix := d.cfg.Storage.RedisKeyPrefix + "ratelimit"
	return ratelimit.NewRedisLimiter(client.GetClient(), d.cfg.Server.RateLimit, prefix),
		ratelimit.NewRedisLimiter(client.GetClient(), d.cfg.Server.CommitRateLimit, prefix+":commit"),
		nil
}

func (d *dependencies) gateway() (billing.Gateway, error) {
	switch d.cfg.Billing.Gateway {
	case config.GatewayMemory:
		d.logger.Warn("using the in-memory payment gateway; nothing is charged")
		return billing.NewMemoryGateway(), nil
	case config.GatewayStripe:
		return billing.NewStripeGateway(d.cfg.Billing.StripeAPIKey, stripeBackends(d.cfg.Billing.StripeURL)), nil
	default:
		return nil, fmt.Errorf("unknown gateway %q", d.cfg.Billing.Gateway)
	}
}

func (d *dependencies) descriptorSigner() (*billing.DescriptorSigner, error) {
	if d.cfg.Billing.DescriptorSecret == "" {
		d.logger.Warn("no descriptor secret configured; previews only commit on this process")
		return billing.NewEphemeralDescriptorSigner(), nil
	}
	return billing.NewDescriptorSigner(d.cfg.Billing.DescriptorSecret)
}

// stripeBackends points every Stripe backend at url, or returns nil for the
// default endpoints
func stripeBackends(url string) *stripe.Backends {
	if url == "" {
		return nil
	}
	cfg := &stripe.BackendConfig{URL: stripe.String(url)}
	return &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	}
}
