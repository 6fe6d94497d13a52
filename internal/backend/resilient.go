package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"PeopleChat/internal/session"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

type resilient struct {
	next    Adapter
	cfg     RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// WithRetry retries retryable BackendErrors from next behind a circuit breaker.
// Empty responses, cancellations and client errors are returned unchanged.
func WithRetry(next Adapter, name string, cfg RetryConfig, logger *slog.Logger) Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// only provider failures count against the breaker
			var backendErr *BackendError
			return err == nil || !errors.As(err, &backendErr) || !backendErr.Retryable()
		},
	})

	return &resilient{
		next:    next,
		cfg:     cfg,
		breaker: breaker,
		logger:  logger,
	}
}

func (r *resilient) CompleteChat(ctx context.Context, instructions string, prior []session.Message, newUserText string, settings session.Settings) (string, error) {
	return r.call(ctx, "chat", func() (string, error) {
		return r.next.CompleteChat(ctx, instructions, prior, newUserText, settings)
	})
}

func (r *resilient) CompleteAssistantThread(ctx context.Context, instructions, newUserText, assistantID string) (string, error) {
	return r.call(ctx, "assistant", func() (string, error) {
		return r.next.CompleteAssistantThread(ctx, instructions, newUserText, assistantID)
	})
}

func (r *resilient) call(ctx context.Context, kind string, fn func() (string, error)) (string, error) {
	var reply string
	attempt := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		result, err := r.breaker.Execute(func() (interface{}, error) {
			s, err := fn()
			return s, err
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			var backendErr *BackendError
			if errors.As(err, &backendErr) && backendErr.Retryable() {
				r.logger.Warn("retrying backend call", "kind", kind, "attempt", attempt, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}

		reply = result.(string)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval
	policy.MaxElapsedTime = r.cfg.MaxElapsedTime
	policy.Reset()

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return reply, err
}
