// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Config bounds the number of attempts and the delay between them.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultConfig is three attempts starting at 50ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

// Do calls fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. The last error is wrapped in the result.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 {
		return errors.New("retry: negative configuration value")
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = cfg.InitialDelay
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := time.Duration(float64(delay) * cfg.Multiplier)
		if next > cfg.MaxDelay {
			next = cfg.MaxDelay
		}
		delay = next
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult is Do for operations that produce a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
