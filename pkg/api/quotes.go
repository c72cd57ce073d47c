package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/platinummonkey/tariff/pkg/async"
	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// QuoteRequest prices quantity units of a price
type QuoteRequest struct {
	PriceID  string  `json:"price_id"`
	Quantity float64 `json:"quantity"`
}

// quotesRequest is either a single quote or a batch
type quotesRequest struct {
	PriceID  string         `json:"price_id,omitempty"`
	Quantity *float64       `json:"quantity,omitempty"`
	Quotes   []QuoteRequest `json:"quotes,omitempty"`
}

// BatchQuote is one entry of a batch reply. Exactly one of Quote and Error is set.
type BatchQuote struct {
	PriceID string         `json:"price_id"`
	Quote   *pricing.Quote `json:"quote,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BatchQuotesResponse is the reply to a batch quote request
type BatchQuotesResponse struct {
	Quotes []BatchQuote `json:"quotes"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Quotes == nil {
		if req.PriceID == "" || req.Quantity == nil {
			httputil.WriteBadRequest(w, "price_id and quantity are required")
			return
		}
		quote, err := s.quote(r.Context(), QuoteRequest{PriceID: req.PriceID, Quantity: *req.Quantity})
		if err != nil {
			writeError(w, r, err)
			return
		}
		_ = httputil.WriteSuccess(w, quote)
		return
	}

	if req.PriceID != "" || req.Quantity != nil {
		httputil.WriteBadRequest(w, "send either a single quote or a quotes batch, not both")
		return
	}
	if len(req.Quotes) == 0 || len(req.Quotes) > s.maxBatchQuotes {
		httputil.WriteBadRequest(w, fmt.Sprintf("quotes batch must hold between 1 and %d entries", s.maxBatchQuotes))
		return
	}

	// Per-entry failures are reported in place so one bad price does not
	// cancel the rest of the batch.
	results, err := async.Map(r.Context(), req.Quotes, s.quoteWorkers, func(ctx context.Context, q QuoteRequest) (BatchQuote, error) {
		quote, err := s.quote(ctx, q)
		if err != nil {
			return BatchQuote{PriceID: q.PriceID, Error: classify(err).message}, nil
		}
		return BatchQuote{PriceID: q.PriceID, Quote: quote}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, BatchQuotesResponse{Quotes: results})
}

func (s *Server) quote(ctx context.Context, req QuoteRequest) (*pricing.Quote, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: empty price id", pricing.ErrPriceNotFound)
	}
	price, err := s.lookup.Resolve(ctx, req.PriceID)
	if err != nil {
		return nil, err
	}

	quote, err := pricing.QuotePrice(price, req.Quantity)
	if err != nil {
		s.metrics.RecordQuote(string(price.ChargeKind), classify(err).kind)
		return nil, err
	}
	s.metrics.RecordQuote(string(price.ChargeKind), "")
	return quote, nil
}
