// Package gatewayservice is the single entry point for payment submission:
// it composes the idempotency registry, the payment state machine and the
// event publisher.
package gatewayservice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/currencypkg"
)

// AccountService provides the account lookups needed for ownership checks.
//
//go:generate mockgen -source service.go -destination service_mock.go -package gatewayservice
type AccountService interface {
	Get(ctx context.Context, id int64) (domain.Account, error)
}

// Registry provides the idempotency registry interface needed by the façade.
type Registry interface {
	Claim(ctx context.Context, key, transactionID string) (domain.ClaimResult, error)
	SaveOutcome(ctx context.Context, key string, outcome domain.PaymentOutcome) error
}

// Executor drives a payment transaction to a terminal state.
type Executor interface {
	Execute(ctx context.Context, transactionID, idempotencyKey string, arg domain.CreatePaymentParams) (domain.PaymentResult, error)
}

// Publisher emits events about committed transactions.
type Publisher interface {
	Publish(topic string, event any) error
}

// TransactionCommitted is the event published after a transaction commits.
// Amount is in minor currency units; AmountDecimal carries the same value
// rendered in major units for downstream consumers.
type TransactionCommitted struct {
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	AmountDecimal string    `json:"amount_decimal"`
	Currency      string    `json:"currency"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Service facilitates the gateway façade logic.
type Service struct {
	accounts  AccountService
	registry  Registry
	executor  Executor
	publisher Publisher
	topic     string
}

// New returns gateway service struct composing the payment pipeline.
// publisher may be nil when eventing is not configured.
func New(accounts AccountService, registry Registry, executor Executor, publisher Publisher, topic string) *Service {
	return &Service{
		accounts:  accounts,
		registry:  registry,
		executor:  executor,
		publisher: publisher,
		topic:     topic,
	}
}

// Submit runs a payment request at most once per idempotency key. A fresh key
// drives the state machine to a terminal state and caches the outcome; a
// repeated key returns the cached outcome without re-executing side effects.
func (s *Service) Submit(ctx context.Context, username, idempotencyKey string, arg domain.CreatePaymentParams) (domain.PaymentResult, error) {
	l := zerolog.Ctx(ctx)

	var result domain.PaymentResult

	if idempotencyKey == "" {
		return result, domain.ErrIdempotencyKeyRequired
	}

	// Requests that can never commit are rejected before the idempotency
	// key is consumed, so a corrected retry may reuse it.
	if err := validateShape(arg); err != nil {
		return result, err
	}

	if err := s.checkOwner(ctx, username, arg); err != nil {
		return result, err
	}

	transactionID := uuid.NewString()

	claim, err := s.registry.Claim(ctx, idempotencyKey, transactionID)
	if err != nil {
		return result, err
	}

	if !claim.Fresh {
		return replay(claim.Outcome)
	}

	result, execErr := s.executor.Execute(ctx, transactionID, idempotencyKey, arg)

	outcome := domain.PaymentOutcome{
		TransactionID: transactionID,
		Status:        result.Transaction.Status,
		ErrorKind:     domain.ErrorKind(execErr),
	}
	if execErr == nil {
		outcome.Result = &result
	}

	if err := s.registry.SaveOutcome(ctx, idempotencyKey, outcome); err != nil {
		l.Error().Err(err).Str("idempotency_key", idempotencyKey).Msg("failed to cache payment outcome")
	}

	if execErr == nil {
		s.publish(ctx, arg, result)
	}

	return result, execErr
}

func validateShape(arg domain.CreatePaymentParams) error {
	if arg.Amount <= 0 {
		return domain.ErrInvalidAmount
	}

	if arg.Kind == domain.KindTransfer && arg.FromAccountID == arg.ToAccountID {
		return domain.ErrSameAccount
	}

	return nil
}

// checkOwner verifies that the authenticated user owns the user-facing side
// of the payment before any state is created for the request.
func (s *Service) checkOwner(ctx context.Context, username string, arg domain.CreatePaymentParams) error {
	ownedID := arg.FromAccountID
	if arg.Kind == domain.KindTopUp {
		ownedID = arg.ToAccountID
	}

	account, err := s.accounts.Get(ctx, ownedID)
	if err != nil {
		return err
	}

	if account.Owner != username {
		return domain.ErrInvalidOwner
	}

	return nil
}

// replay reconstructs the first submission's result from the cached outcome.
func replay(outcome *domain.PaymentOutcome) (domain.PaymentResult, error) {
	var result domain.PaymentResult

	if outcome.Result != nil {
		result = *outcome.Result
	} else {
		result.Transaction = domain.Transaction{
			ID:     outcome.TransactionID,
			Status: outcome.Status,
		}
	}

	return result, domain.ErrorFromKind(outcome.ErrorKind)
}

func (s *Service) publish(ctx context.Context, arg domain.CreatePaymentParams, result domain.PaymentResult) {
	if s.publisher == nil {
		return
	}

	l := zerolog.Ctx(ctx)

	event := TransactionCommitted{
		TransactionID: result.Transaction.ID,
		Kind:          string(result.Transaction.Kind),
		FromAccountID: result.FromAccount.ID,
		ToAccountID:   result.ToAccount.ID,
		Amount:        arg.Amount,
		AmountDecimal: currencypkg.FormatMinorUnits(arg.Amount),
		Currency:      result.FromAccount.Currency,
		OccurredAt:    result.Transaction.UpdatedAt,
	}

	if err := s.publisher.Publish(s.topic, event); err != nil {
		l.Error().Err(err).Str("transaction_id", event.TransactionID).Msg("failed to publish transaction event")
	}
}
