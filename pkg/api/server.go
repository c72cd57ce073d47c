package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/observability"
)

const (
	defaultMaxBatchQuotes = 100
	defaultQuoteWorkers   = 8
	maxRequestBytes       = 1 << 20
)

// Options configures a Server. Lookup, Planner and Committer are required.
type Options struct {
	Lookup    billing.PriceLookup
	Planner   *billing.Planner
	Committer *billing.Committer

	Logger  *observability.Logger
	Metrics *observability.Metrics

	MaxBatchQuotes int
	QuoteWorkers   int
}

// Server is the HTTP API
type Server struct {
	router    *mux.Router
	lookup    billing.PriceLookup
	planner   *billing.Planner
	committer *billing.Committer
	logger    *observability.Logger
	metrics   *observability.Metrics

	maxBatchQuotes int
	quoteWorkers   int
}

// NewServer creates a server and registers its routes
func NewServer(opts Options) (*Server, error) {
	if opts.Lookup == nil || opts.Planner == nil || opts.Committer == nil {
		return nil, fmt.Errorf("api: lookup, planner and committer are required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.MaxBatchQuotes <= 0 {
		opts.MaxBatchQuotes = defaultMaxBatchQuotes
	}
	if opts.QuoteWorkers <= 0 {
		opts.QuoteWorkers = defaultQuoteWorkers
	}

	s := &Server{
		router:         mux.NewRouter(),
		lookup:         opts.Lookup,
		planner:        opts.Planner,
		committer:      opts.Committer,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		maxBatchQuotes: opts.MaxBatchQuotes,
		quoteWorkers:   opts.QuoteWorkers,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		observability.HTTPMetricsMiddleware(s.metrics),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBytes),
	)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/quotes", s.handleQuotes).Methods(http.MethodPost)
	v1.HandleFunc("/subscriptions/{id}/preview", s.handlePreview).Methods(http.MethodPost)
	v1.HandleFunc("/commits", s.handleCommit).Methods(http.MethodPost)
	v1.HandleFunc("/commits/{descriptor}", s.handleLookup).Methods(http.MethodGet)
}

// Router exposes the router so the binary can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
