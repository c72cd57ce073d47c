package billing

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, true},
		{"too many requests", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"rate limit code", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeRateLimit}, true},
		{"lock timeout", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeLockTimeout}, true},
		{"idempotency key in use", &stripe.Error{HTTPStatusCode: http.StatusConflict, Code: stripe.ErrorCodeIdempotencyKeyInUse}, true},
		{"card declined", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined}, false},
		{"bad request", &stripe.Error{HTTPStatusCode: http.StatusBadRequest}, false},
		{"wrapped stripe error", fmt.Errorf("charge: %w", &stripe.Error{HTTPStatusCode: http.StatusInternalServerError}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"network timeout", &net.OpError{Op: "dial", Err: timeoutError{}}, true},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
