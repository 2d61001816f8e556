// Package idempotencyservice manages business logic layer of idempotent
// request deduplication.
package idempotencyservice

import (
	"context"
	"errors"
	"time"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/retrypkg"
)

// Repo provides data access layer interface needed by the idempotency service layer.
//
//go:generate mockgen -source service.go -destination service_mock.go -package idempotencyservice
type Repo interface {
	Insert(ctx context.Context, key, transactionID string) (domain.IdempotencyRecord, error)
	Get(ctx context.Context, key string) (domain.IdempotencyRecord, error)
	SaveOutcome(ctx context.Context, key string, outcome domain.PaymentOutcome) error
}

// Service facilitates idempotency registry logic.
type Service struct {
	repo         Repo
	pollAttempts int
	pollInterval time.Duration
}

// New returns idempotency service struct. pollAttempts and pollInterval bound
// how long a duplicate request waits for the first submission to finish.
func New(r Repo, pollAttempts int, pollInterval time.Duration) *Service {
	return &Service{
		repo:         r,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
	}
}

// Claim atomically claims the key for the given transaction. Exactly one
// concurrent caller observes a fresh claim; the others wait for the first
// caller's cached outcome, polling up to the configured bound before
// surfacing domain.ErrClaimTimeout.
func (s *Service) Claim(ctx context.Context, key, transactionID string) (domain.ClaimResult, error) {
	var result domain.ClaimResult

	_, err := s.repo.Insert(ctx, key, transactionID)
	if err == nil {
		result.Fresh = true
		return result, nil
	}

	if !errors.Is(err, domain.ErrKeyAlreadyClaimed) {
		return result, err
	}

	poll := func(ctx context.Context) error {
		rec, err := s.repo.Get(ctx, key)
		if err != nil {
			return err
		}

		if rec.Outcome == nil {
			return domain.ErrClaimTimeout
		}

		result.Outcome = rec.Outcome

		return nil
	}

	classify := func(err error) retrypkg.Outcome {
		switch {
		case err == nil:
			return retrypkg.Ok
		case errors.Is(err, domain.ErrClaimTimeout):
			return retrypkg.Retryable
		default:
			return retrypkg.Fatal
		}
	}

	if err := retrypkg.Do(ctx, s.pollAttempts, s.pollInterval, poll, classify); err != nil {
		return domain.ClaimResult{}, err
	}

	return result, nil
}

// SaveOutcome records the terminal outcome for the key. Recorded outcomes are
// immutable.
func (s *Service) SaveOutcome(ctx context.Context, key string, outcome domain.PaymentOutcome) error {
	return s.repo.SaveOutcome(ctx, key, outcome)
}
