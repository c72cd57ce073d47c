package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tariff/pkg/pricing"
)

// ErrInvalidCatalog is returned when a catalog document cannot be loaded
var ErrInvalidCatalog = errors.New("invalid price catalog")

// document is the YAML layout of a catalog file
type document struct {
	Prices []entry `yaml:"prices"`
}

type entry struct {
	ID         string                 `yaml:"id"`
	ChargeType string                 `yaml:"charge_type"`
	Currency   string                 `yaml:"currency"`
	FlatAmount *int64                 `yaml:"flat_amount"`
	Tiers      interface{}            `yaml:"tiers"`
	Package    *pricing.PackageConfig `yaml:"package"`
}

// record converts the entry into the persisted price format. Tiers go
// through JSON so they share one parser with every other price source.
func (e entry) record() (pricing.PriceRecord, error) {
	rec := pricing.PriceRecord{
		ID:         e.ID,
		ChargeType: e.ChargeType,
		Currency:   e.Currency,
		FlatAmount: e.FlatAmount,
		Package:    e.Package,
	}
	if e.Tiers != nil {
		raw, err := json.Marshal(e.Tiers)
		if err != nil {
			return rec, fmt.Errorf("price %s: tiers: %w", e.ID, err)
		}
		rec.Tiers = raw
	}
	return rec, nil
}

// Parse decodes and validates a YAML catalog. Every price must be valid and
// ids must be unique; a single bad price rejects the whole document.
func Parse(data []byte) (map[string]*pricing.PriceSnapshot, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	prices := make(map[string]*pricing.PriceSnapshot, len(doc.Prices))
	for i, e := range doc.Prices {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: price %d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := prices[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate price id %s", ErrInvalidCatalog, e.ID)
		}

		rec, err := e.record()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		snap, err := rec.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
		}
		prices[e.ID] = snap
	}
	return prices, nil
}

// Catalog is an in-memory price lookup whose contents can be swapped
// atomically while it is being read
type Catalog struct {
	prices atomic.Pointer[map[string]*pricing.PriceSnapshot]

	mu       sync.Mutex
	onReload []func(changed []string)
}

// New creates a catalog holding prices
func New(prices map[string]*pricing.PriceSnapshot) *Catalog {
	c := &Catalog{}
	if prices == nil {
		prices = map[string]*pricing.PriceSnapshot{}
	}
	c.prices.Store(&prices)
	return c
}

// Load reads and parses a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	prices, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(prices), nil
}

// Resolve returns the price with the given id
func (c *Catalog) Resolve(ctx context.Context, id string) (*pricing.PriceSnapshot, error) {
	price, ok := (*c.prices.Load())[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", pricing.ErrPriceNotFound, id)
	}
	return price, nil
}

// Len returns the number of prices
func (c *Catalog) Len() int {
	return len(*c.prices.Load())
}

// IDs returns every price id in sorted order
func (c *Catalog) IDs() []string {
	prices := *c.prices.Load()
	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnReload registers fn to run after each Replace with the ids that were
// added, removed or changed
func (c *Catalog) OnReload(fn func(changed []string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReload = append(c.onReload, fn)
}

// Replace swaps in a new set of prices
func (c *Catalog) Replace(prices map[string]*pricing.PriceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := *c.prices.Load()
	c.prices.Store(&prices)

	changed := diff(old, prices)
	for _, fn := range c.onReload {
		fn(changed)
	}
}

// ReloadFile re-reads path. On error the current prices stay in place.
func (c *Catalog) ReloadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	return c.ReloadBytes(data)
}

// ReloadBytes parses data and swaps it in. On error the current prices stay in place.
func (c *Catalog) ReloadBytes(data []byte) error {
	prices, err := Parse(data)
	if err != nil {
		return err
	}
	c.Replace(prices)
	return nil
}

func diff(old, updated map[string]*pricing.PriceSnapshot) []string {
	var changed []string
	for id, price := range updated {
		prev, ok := old[id]
		if !ok || !samePrice(prev, price) {
			changed = append(changed, id)
		}
	}
	for id := range old {
		if _, ok := updated[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

func samePrice(a, b *pricing.PriceSnapshot) bool {
	ra, errA := a.Record()
	rb, errB := b.Record()
	if errA != nil || errB != nil {
		return false
	}
	ja, _ := json.Marshal(ra)
	jb, _ := json.Marshal(rb)
	return string(ja) == string(jb)
}
