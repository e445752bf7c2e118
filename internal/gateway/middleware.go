package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/glance/internal/reliability"
	"golang.org/x/time/rate"
)

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (Response, error)

func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// WithTimeout bounds every call. The deadline is enforced even when the
// wrapped client ignores its context.
func WithTimeout(next Client, timeout time.Duration) Client {
	if timeout <= 0 {
		return next
	}
	return ClientFunc(func(ctx context.Context, req Request) (Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			resp Response
			err  error
		}
		done := make(chan result, 1)
		go func() {
			resp, err := next.Complete(callCtx, req)
			done <- result{resp: resp, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return Response{}, &Error{Kind: KindTimeout, Err: r.err}
			}
			return r.resp, r.err
		case <-callCtx.Done():
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, &Error{Kind: KindTimeout, Err: callCtx.Err()}
		}
	})
}

// WithRateLimit waits on a process-wide limiter before each call.
func WithRateLimit(next Client, limiter *rate.Limiter) Client {
	if limiter == nil {
		return next
	}
	return ClientFunc(func(ctx context.Context, req Request) (Response, error) {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
				return Response{}, ctx.Err()
			}
			return Response{}, &Error{Kind: KindTimeout, Err: err}
		}
		return next.Complete(ctx, req)
	})
}

// RetryPolicy controls WithRetry. MaxRetries of zero disables retries.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// WithRetry retries quota and timeout failures, plus upstream statuses the
// reliability package marks retryable.
func WithRetry(next Client, policy RetryPolicy) Client {
	if policy.MaxRetries <= 0 {
		return next
	}
	return ClientFunc(func(ctx context.Context, req Request) (Response, error) {
		var lastErr error
		for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
			resp, err := next.Complete(ctx, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if attempt == policy.MaxRetries || !retryable(err) || ctx.Err() != nil {
				break
			}
			if policy.OnRetry != nil {
				policy.OnRetry(attempt+1, err)
			}
			if sleepErr := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt, policy.BaseDelay, policy.MaxDelay)); sleepErr != nil {
				return Response{}, sleepErr
			}
		}
		return Response{}, lastErr
	})
}

func retryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.StatusCode != 0 && reliability.IsRetryableHTTPStatus(gwErr.StatusCode) {
		return true
	}
	return Classify(err).Retryable()
}
