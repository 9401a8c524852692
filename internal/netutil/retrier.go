// Package netutil provides network related utilities.
package netutil

import (
	"context"
	"errors"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("netutil")

// ErrThresholdReached is returned when the retry threshold expired before
// the operation succeeded.
var ErrThresholdReached = errors.New("retry threshold reached")

// RetryFunc is an operation subject to retries.
type RetryFunc func() error

// Retrier retries an operation with a configurable backoff. A factor of 1
// yields a fixed retry interval; a threshold of 0 retries until the context
// is done.
type Retrier struct {
	backoff   time.Duration
	factor    uint32
	threshold time.Duration
	whitelist map[error]struct{}
}

// NewRetrier constructs a new Retrier.
func NewRetrier(backoff, threshold time.Duration, factor uint32) *Retrier {
	return &Retrier{
		backoff:   backoff,
		factor:    factor,
		threshold: threshold,
		whitelist: make(map[error]struct{}),
	}
}

// WithErrWhitelist configures errors that abort retrying and are returned
// to the caller as-is.
func (r *Retrier) WithErrWhitelist(errs ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errs {
		m[err] = struct{}{}
	}
	r.whitelist = m
	return r
}

// Do runs f until it succeeds, a whitelisted error occurs, the threshold
// expires or ctx is done.
func (r *Retrier) Do(ctx context.Context, f RetryFunc) error {
	var done <-chan time.Time
	if r.threshold > 0 {
		done = time.After(r.threshold)
	}

	backoff := r.backoff
	for {
		err := f()
		if err == nil {
			return nil
		}
		if r.isWhitelisted(err) {
			return err
		}
		log.Warn(err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ErrThresholdReached
		case <-time.After(backoff):
			backoff *= time.Duration(r.factor)
		}
	}
}

func (r *Retrier) isWhitelisted(err error) bool {
	_, ok := r.whitelist[err]
	return ok
}
