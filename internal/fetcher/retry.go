package fetcher

import (
	"context"
	"errors"
	"time"
)

// DefaultRetry makes three attempts, waiting 500ms and then 1s between them.
var DefaultRetry = Retry{Attempts: 3, Backoff: 500 * time.Millisecond}

// Retry runs an operation a bounded number of times with exponential backoff.
type Retry struct {
	Attempts int
	Backoff  time.Duration
	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (r Retry) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := max(r.Attempts, 1)
	wait := r.Backoff

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}

		wait *= 2
		if r.MaxBackoff > 0 && wait > r.MaxBackoff {
			wait = r.MaxBackoff
		}
	}

	return err
}
