// Package retrypkg provides a bounded retry policy for transient failures.
package retrypkg

import (
	"context"
	"time"
)

// Outcome classifies an attempt's error for the retry driver.
type Outcome int

// Possible attempt outcomes.
const (
	// Ok means the attempt succeeded.
	Ok Outcome = iota
	// Retryable means the attempt failed transiently and may be retried.
	Retryable
	// Fatal means the attempt failed permanently and must not be retried.
	Fatal
)

// Classifier maps an attempt's error to an Outcome. A nil error must map to Ok.
type Classifier func(err error) Outcome

// Do runs fn up to attempts times, sleeping backoff between attempts that the
// classifier marks Retryable. It returns nil on Ok, the last error once
// attempts are exhausted, or the error immediately on Fatal. Context
// cancellation aborts the wait and returns ctx.Err().
func Do(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error, classify Classifier) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)

		switch classify(err) {
		case Ok:
			return nil
		case Fatal:
			return err
		}
	}

	return err
}
