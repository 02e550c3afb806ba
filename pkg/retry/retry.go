// Package retry provides a bounded retry loop with fixed or linear backoff.
//
// It replaces ad-hoc retry counters so that playback, synthesis and
// recording share one policy shape:
//
//	p := retry.Policy{MaxRetries: 2, Delay: time.Second}
//	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return call(ctx)
//	})
package retry

import (
	"context"
	"errors"
	"time"
)

// Backoff selects how the delay grows between attempts.
type Backoff int

const (
	// Fixed waits Delay before every retry.
	Fixed Backoff = iota
	// Linear waits Delay*n before the n-th retry.
	Linear
)

// Policy describes a bounded retry loop.
// The operation runs once plus at most MaxRetries more times.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Backoff    Backoff

	// Retryable reports whether err warrants another attempt.
	// Nil means every error is retryable.
	Retryable func(err error) bool

	// OnRetry is called before sleeping for the given retry number (1-based).
	OnRetry func(retry int, err error)

	// Sleep overrides the wait between attempts. Tests use it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Func is one attempt. attempt is 0 for the first call.
type Func func(ctx context.Context, attempt int) error

// permanent marks an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}

// Do runs fn until it succeeds, returns a permanent or non-retryable
// error, the retries are exhausted, or ctx is done. The last error is returned
// with any Permanent wrapper removed.
func (p Policy) Do(ctx context.Context, fn Func) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, err)
			}
			if serr := p.sleep(ctx, p.delay(attempt)); serr != nil {
				return serr
			}
		}

		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (p Policy) delay(retry int) time.Duration {
	if p.Backoff == Linear {
		return p.Delay * time.Duration(retry)
	}
	return p.Delay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
