package billing

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/stripe/stripe-go/v79"
)

// IsRetryable reports whether a gateway error may succeed when the same
// descriptor is submitted again. Card and request errors are terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return isRetryableStripeError(err) || isRetryableNetworkError(err) || isRetryableSystemError(err)
}

func isRetryableStripeError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}

	if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeRateLimit,
		stripe.ErrorCodeLockTimeout,
		stripe.ErrorCodeIdempotencyKeyInUse:
		return true
	}

	return stripeErr.HTTPStatusCode == http.StatusTooManyRequests
}

func isRetryableNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isRetryableSystemError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
