package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultIngestPolicy retries handing a consumed event to the fan-out engine.
// Permanent errors (bad payloads) are not retried.
func DefaultIngestPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "ingest",
		Attempts: 6,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("ingest retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("ingest retries exhausted", zap.Error(err))
			}
		},
	}
}

// DefaultPublishPolicy retries short broker hiccups inside one send. The
// delivery attempt as a whole is retried by the scheduler instead.
func DefaultPublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "publish",
		Attempts: 3,
		Backoff:  ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Debug("publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
