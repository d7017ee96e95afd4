// internal/pipeline/retry.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scholarstream/paperboy/internal/llm"
	"github.com/scholarstream/paperboy/internal/service"
)

// RetryPolicy configures bounded retry with exponential backoff for
// per-item operations.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff factor.
	// Default: 2
	Multiplier float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// applyDefaults fills unset fields.
func (p *RetryPolicy) applyDefaults() {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaults.Multiplier
	}
}

// Transient reports whether an error is worth retrying.
//
// Service responses carry their status code in *service.APIError; 5xx
// and 429 are transient, 4xx are permanent. LLM errors arrive
// pre-classified. Bare transport errors (dial, reset, timeout) are
// transient. Anything unrecognized is treated as permanent and fails
// fast rather than burning attempts.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *service.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, llm.ErrTransient) {
		return true
	}
	if errors.Is(err, llm.ErrPolicy) {
		return false
	}
	return service.IsTransport(err)
}

// Do runs operation under the policy, retrying only errors for which
// classify returns true. Backoff sleeps respect context cancellation;
// a cancelled context ends the current item after its in-flight
// attempt, with no further retries.
func (p RetryPolicy) Do(ctx context.Context, classify func(error) bool, operation func() error) error {
	p.applyDefaults()
	if classify == nil {
		classify = Transient
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry abandoned: %w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(backoff):
		}

		next := time.Duration(float64(backoff) * p.Multiplier)
		if next > p.MaxBackoff {
			next = p.MaxBackoff
		}
		backoff = next
	}

	return fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}
