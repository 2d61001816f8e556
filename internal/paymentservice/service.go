// Package paymentservice drives a payment transaction through its state
// machine: pending, reserved, then committed, rolled back or failed.
package paymentservice

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-petr/pay-gateway/internal/domain"
	"github.com/go-petr/pay-gateway/pkg/errorspkg"
	"github.com/go-petr/pay-gateway/pkg/retrypkg"
)

// Ledger provides the ledger store interface needed by the payment state machine.
//
//go:generate mockgen -source service.go -destination service_mock.go -package paymentservice
type Ledger interface {
	GetAccount(ctx context.Context, id int64) (domain.Account, error)
	GetTreasury(ctx context.Context, currency string) (domain.Account, error)
	Reserve(ctx context.Context, accountID, amount int64) (domain.Reservation, error)
	Release(ctx context.Context, res domain.Reservation) error
	ApplyPostings(ctx context.Context, transactionID string, postings []domain.Posting, reservations []domain.Reservation) (domain.CommitResult, error)
}

// TransactionRepo provides the transaction persistence interface needed by
// the payment state machine.
type TransactionRepo interface {
	Create(ctx context.Context, arg domain.CreateTransactionParams) (domain.Transaction, error)
	SetStatus(ctx context.Context, id string, status domain.Status) (domain.Transaction, error)
}

// Service facilitates payment state machine logic.
type Service struct {
	ledger        Ledger
	transactions  TransactionRepo
	retryAttempts int
	retryBackoff  time.Duration
}

// New returns payment service struct to drive payment transactions.
// retryAttempts bounds how many times a commit is retried after a
// concurrency conflict before the transaction fails.
func New(ledger Ledger, tr TransactionRepo, retryAttempts int, retryBackoff time.Duration) *Service {
	return &Service{
		ledger:        ledger,
		transactions:  tr,
		retryAttempts: retryAttempts,
		retryBackoff:  retryBackoff,
	}
}

// Execute validates the payment, persists the transaction under the given id
// and idempotency key, and drives it to a terminal state. The returned error
// is nil only for committed transactions.
func (s *Service) Execute(ctx context.Context, transactionID, idempotencyKey string, arg domain.CreatePaymentParams) (domain.PaymentResult, error) {
	var result domain.PaymentResult

	// Malformed requests are rejected before anything is persisted.
	if arg.Amount <= 0 {
		return result, domain.ErrInvalidAmount
	}

	if arg.Kind == domain.KindTransfer && arg.FromAccountID == arg.ToAccountID {
		return result, domain.ErrSameAccount
	}

	txn, err := s.transactions.Create(ctx, domain.CreateTransactionParams{
		ID:             transactionID,
		IdempotencyKey: idempotencyKey,
		Kind:           arg.Kind,
	})
	if err != nil {
		return result, err
	}

	result.Transaction = txn

	from, to, err := s.resolveAccounts(ctx, arg)
	if err != nil {
		return s.fail(ctx, result, err)
	}

	if from.Currency != to.Currency {
		return s.fail(ctx, result, domain.ErrCurrencyMismatch)
	}

	postings := []domain.Posting{{
		TransactionID: txn.ID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        arg.Amount,
	}}

	commit, err := s.commitWithRetry(ctx, txn.ID, postings)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return s.rollBack(ctx, result, err)
		}

		return s.fail(ctx, result, err)
	}

	result.Transaction = commit.Transaction
	result.Postings = commit.Postings
	result.FromAccount = commit.Accounts[from.ID]
	result.ToAccount = commit.Accounts[to.ID]

	return result, nil
}

// resolveAccounts loads the debit and credit accounts for the payment. Top-ups
// draw from and withdrawals deposit to the treasury account matching the user
// account's currency.
func (s *Service) resolveAccounts(ctx context.Context, arg domain.CreatePaymentParams) (domain.Account, domain.Account, error) {
	var from, to domain.Account

	switch arg.Kind {
	case domain.KindTransfer:
		from, err := s.ledger.GetAccount(ctx, arg.FromAccountID)
		if err != nil {
			return from, to, err
		}

		to, err := s.ledger.GetAccount(ctx, arg.ToAccountID)
		if err != nil {
			return from, to, err
		}

		return from, to, nil

	case domain.KindTopUp:
		to, err := s.ledger.GetAccount(ctx, arg.ToAccountID)
		if err != nil {
			return from, to, err
		}

		from, err := s.ledger.GetTreasury(ctx, to.Currency)
		if err != nil {
			return from, to, err
		}

		return from, to, nil

	case domain.KindWithdrawal:
		from, err := s.ledger.GetAccount(ctx, arg.FromAccountID)
		if err != nil {
			return from, to, err
		}

		to, err := s.ledger.GetTreasury(ctx, from.Currency)
		if err != nil {
			return from, to, err
		}

		return from, to, nil
	}

	return from, to, domain.ErrUnknownKind
}

// commitWithRetry reserves the debited accounts and applies the postings,
// retrying the whole reserve plus commit cycle on concurrency conflicts up to
// the configured number of attempts.
func (s *Service) commitWithRetry(ctx context.Context, transactionID string, postings []domain.Posting) (domain.CommitResult, error) {
	l := zerolog.Ctx(ctx)

	var (
		commit       domain.CommitResult
		reservations []domain.Reservation
	)

	attempt := func(ctx context.Context) error {
		if reservations == nil {
			var err error

			reservations, err = s.reserveAll(ctx, postings)
			if err != nil {
				return err
			}

			if _, err := s.transactions.SetStatus(ctx, transactionID, domain.StatusReserved); err != nil {
				s.releaseAll(ctx, reservations)
				reservations = nil

				return err
			}
		}

		var err error

		commit, err = s.ledger.ApplyPostings(ctx, transactionID, postings, reservations)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrencyConflict) {
				// The holds survived the failed commit but their
				// versions are stale; give them back and reserve
				// afresh on the next attempt.
				s.releaseAll(ctx, reservations)
				reservations = nil
			}

			return err
		}

		return nil
	}

	classify := func(err error) retrypkg.Outcome {
		switch {
		case err == nil:
			return retrypkg.Ok
		case errors.Is(err, domain.ErrConcurrencyConflict):
			return retrypkg.Retryable
		default:
			return retrypkg.Fatal
		}
	}

	err := retrypkg.Do(ctx, s.retryAttempts, s.retryBackoff, attempt, classify)
	if err != nil {
		l.Info().Err(err).Str("transaction_id", transactionID).Msg("commit did not complete")

		if reservations != nil {
			s.releaseAll(ctx, reservations)
		}

		return commit, err
	}

	return commit, nil
}

// reserveAll places holds on all debited accounts in ascending account id
// order, so concurrent transactions over overlapping account sets never
// deadlock. On failure every hold already placed is released.
func (s *Service) reserveAll(ctx context.Context, postings []domain.Posting) ([]domain.Reservation, error) {
	debits := make(map[int64]int64)
	for _, p := range postings {
		debits[p.FromAccountID] += p.Amount
	}

	ids := make([]int64, 0, len(debits))
	for id := range debits {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	reservations := make([]domain.Reservation, 0, len(ids))

	for _, id := range ids {
		res, err := s.ledger.Reserve(ctx, id, debits[id])
		if err != nil {
			s.releaseAll(ctx, reservations)
			return nil, err
		}

		reservations = append(reservations, res)
	}

	return reservations, nil
}

func (s *Service) releaseAll(ctx context.Context, reservations []domain.Reservation) {
	l := zerolog.Ctx(ctx)

	for _, res := range reservations {
		if err := s.ledger.Release(ctx, res); err != nil {
			l.Error().Err(err).Int64("account_id", res.AccountID).Msg("failed to release reservation")
		}
	}
}

// rollBack marks the transaction rolled back: a business rejection, not a fault.
func (s *Service) rollBack(ctx context.Context, result domain.PaymentResult, cause error) (domain.PaymentResult, error) {
	return s.finish(ctx, result, domain.StatusRolledBack, cause)
}

// fail marks the transaction failed: an unrecoverable fault.
func (s *Service) fail(ctx context.Context, result domain.PaymentResult, cause error) (domain.PaymentResult, error) {
	return s.finish(ctx, result, domain.StatusFailed, cause)
}

func (s *Service) finish(ctx context.Context, result domain.PaymentResult, status domain.Status, cause error) (domain.PaymentResult, error) {
	l := zerolog.Ctx(ctx)

	txn, err := s.transactions.SetStatus(ctx, result.Transaction.ID, status)
	if err != nil {
		l.Error().Err(err).Str("transaction_id", result.Transaction.ID).Send()
		return result, errorspkg.ErrInternal
	}

	result.Transaction = txn

	return result, cause
}
