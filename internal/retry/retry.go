// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry runs an operation with bounded exponential backoff on
// transient failures.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/litreview/pkg/types"
)

// Policy bounds the retries of one operation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the wait before the first retry; it doubles each time.
	BaseDelay time.Duration
}

// Default is three retries starting at one second.
var Default = Policy{MaxRetries: 3, BaseDelay: time.Second}

// ExhaustedError reports a transient failure that outlived its retries.
// It is permanent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a non-transient error, or the
// retries run out. Exhausted transient errors are demoted to permanent.
// Context cancellation during a backoff wait returns ctx.Err().
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.BaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !types.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return types.Permanent("retry", &ExhaustedError{Attempts: p.MaxRetries + 1, Err: lastErr})
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
