package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/tariff/pkg/billing"
	"github.com/platinummonkey/tariff/pkg/httputil"
	"github.com/platinummonkey/tariff/pkg/money"
	"github.com/platinummonkey/tariff/pkg/observability"
	"github.com/platinummonkey/tariff/pkg/pricing"
)

// apiError is the client-facing form of an internal error
type apiError struct {
	status  int
	message string
	kind    string // metric label
}

func classify(err error) apiError {
	switch {
	case errors.Is(err, pricing.ErrPriceNotFound):
		return apiError{http.StatusNotFound, "price not found", "not_found"}
	case errors.Is(err, pricing.ErrInvalidQuantity):
		return apiError{http.StatusBadRequest, "invalid quantity", "invalid_quantity"}
	case errors.Is(err, pricing.ErrMissingTierConfiguration),
		errors.Is(err, pricing.ErrInvalidTierConfiguration),
		errors.Is(err, pricing.ErrUnknownChargeKind),
		errors.Is(err, money.ErrCurrencyMismatch):
		return apiError{http.StatusUnprocessableEntity, "price is misconfigured", "misconfigured"}
	case errors.Is(err, money.ErrAmountOverflow):
		return apiError{http.StatusUnprocessableEntity, "amount out of range", "overflow"}
	case errors.Is(err, billing.ErrInvalidSubscription):
		return apiError{http.StatusBadRequest, "invalid subscription", "invalid_subscription"}
	case errors.Is(err, billing.ErrInvalidState):
		return apiError{http.StatusConflict, "preview cannot be committed", "invalid_state"}
	case errors.Is(err, billing.ErrResultNotFound):
		return apiError{http.StatusNotFound, "commit result not found", "not_found"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apiError{http.StatusServiceUnavailable, "request timed out", "timeout"}
	default:
		return apiError{http.StatusInternalServerError, "internal server error", "internal"}
	}
}

// writeError logs err and replies with its generic client message
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	logger := observability.FromContext(r.Context()).WithError(err).WithField("status", e.status)
	if e.status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}
	httputil.WriteErrorMessage(w, e.status, e.message)
}
