package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-ohlcv-pipeline/internal/config"
)

// ErrorType represents the classification of a transport error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"

	// Non-retryable error types
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeBadRequest     ErrorType = "bad_request"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeCanceled       ErrorType = "canceled"

	ErrorTypeUnknown ErrorType = "unknown"
)

// TransportError carries the HTTP status of a failed remote call so that it
// can be classified without parsing the message.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *TransportError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("request to %s failed with status %d: %s", e.Endpoint, e.StatusCode, body)
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an
// HTTP date. Unparseable values yield zero.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

// Classify analyzes an error and returns its type
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var te *TransportError
	if errors.As(err, &te) {
		switch {
		case te.StatusCode == http.StatusTooManyRequests:
			return ErrorTypeRateLimit
		case te.StatusCode == http.StatusUnauthorized || te.StatusCode == http.StatusForbidden:
			return ErrorTypeAuthentication
		case te.StatusCode >= 500:
			return ErrorTypeServerError
		case te.StatusCode >= 400:
			return ErrorTypeBadRequest
		}
	}

	if errors.Is(err, ErrArgument) || errors.Is(err, ErrSchema) {
		return ErrorTypeValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "no route to host", "eof"} {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeNetwork
		}
	}

	return ErrorTypeUnknown
}

// IsRetryable checks if an error is worth another attempt
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// Retrier runs remote operations under a configured backoff policy.
type Retrier struct {
	policy config.RetryPolicyConfig
	logger *slog.Logger
}

// NewRetrier creates a retrier for the given policy
func NewRetrier(policy config.RetryPolicyConfig, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Retrier{policy: policy, logger: logger}
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, operation string, fn func() error) error {
	attempts := 0
	strategy := backoff.WithContext(r.backoffStrategy(), ctx)

	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		var te *TransportError
		if errors.As(err, &te) && te.RetryAfter > 0 {
			r.logger.Warn("rate limited, waiting", "operation", operation, "retry_after", te.RetryAfter)
			select {
			case <-time.After(te.RetryAfter):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		r.logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempts,
			"max_attempts", r.policy.MaxAttempts,
			"error_type", Classify(err),
			"next_retry", next,
			"error", err.Error())
	}

	if err := backoff.RetryNotify(op, strategy, notify); err != nil {
		if attempts > 1 {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, err)
		}
		return err
	}
	return nil
}

// backoffStrategy creates a backoff strategy based on configuration
func (r *Retrier) backoffStrategy() backoff.BackOff {
	initialDelay, err := time.ParseDuration(r.policy.InitialDelay)
	if err != nil || initialDelay <= 0 {
		initialDelay = 500 * time.Millisecond
	}
	maxDelay, err := time.ParseDuration(r.policy.MaxDelay)
	if err != nil || maxDelay < initialDelay {
		maxDelay = 30 * time.Second
	}

	var strategy backoff.BackOff
	switch r.policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0 // rely on context
		if !r.policy.Jitter {
			exponential.RandomizationFactor = 0
		}
		strategy = exponential
	}

	return backoff.WithMaxRetries(strategy, uint64(r.policy.MaxAttempts-1))
}
