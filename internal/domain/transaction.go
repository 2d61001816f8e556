package domain

import (
	"errors"
	"time"
)

var (
	// ErrInvalidAmount indicates that the amount is not a positive integer.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrSameAccount indicates that the source and destination accounts are the same.
	ErrSameAccount = errors.New("source and destination accounts are the same")
	// ErrCurrencyMismatch indicates that transaction accounts have different currencies.
	ErrCurrencyMismatch = errors.New("accounts currency mismatch")
	// ErrInsufficientBalance indicates that the account does not have sufficient spendable balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrConcurrencyConflict indicates that a concurrent commit advanced an account
	// version past the one captured at reservation time.
	ErrConcurrencyConflict = errors.New("concurrent balance update conflict")
	// ErrTransactionNotFound indicates that the transaction is not found.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidOwner indicates that the user is unauthorized to move money from the account.
	ErrInvalidOwner = errors.New("unauthorized owner")
	// ErrTerminalStatus indicates an attempt to transition a transaction out of a terminal status.
	ErrTerminalStatus = errors.New("transaction status is terminal")
	// ErrUnknownKind indicates an unsupported transaction kind.
	ErrUnknownKind = errors.New("unknown transaction kind")
)

// Status is the state of a transaction in its lifecycle.
type Status string

// Transaction statuses. Committed, RolledBack and Failed are terminal.
const (
	StatusPending    Status = "pending"
	StatusReserved   Status = "reserved"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCommitted, StatusRolledBack, StatusFailed:
		return true
	}

	return false
}

// Kind distinguishes the money movement a transaction performs.
type Kind string

// Transaction kinds. Top-ups draw from and withdrawals deposit to the
// gateway treasury account of the matching currency.
const (
	KindTransfer   Kind = "transfer"
	KindTopUp      Kind = "topup"
	KindWithdrawal Kind = "withdrawal"
)

// Transaction represents one payment request moving through the state machine.
type Transaction struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Kind           Kind      `json:"kind"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CreateTransactionParams is the input data to persist a new transaction.
type CreateTransactionParams struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`
	Kind           Kind   `json:"kind"`
}

// CreatePaymentParams is the input data for the payment state machine.
// Transfers use both account ids; top-ups use ToAccountID only and
// withdrawals use FromAccountID only.
type CreatePaymentParams struct {
	Kind          Kind  `json:"kind"`
	FromAccountID int64 `json:"from_account_id,omitempty"`
	ToAccountID   int64 `json:"to_account_id,omitempty"`
	Amount        int64 `json:"amount"`
}

// CommitResult is the result of atomically applying a transaction's postings.
type CommitResult struct {
	Transaction Transaction       `json:"transaction"`
	Postings    []Posting         `json:"postings"`
	Accounts    map[int64]Account `json:"accounts"`
}

// PaymentResult is the result of a payment driven to a terminal state.
type PaymentResult struct {
	Transaction Transaction `json:"transaction"`
	Postings    []Posting   `json:"postings"`
	FromAccount Account     `json:"from_account"`
	ToAccount   Account     `json:"to_account"`
}

// Stable error kind identifiers used to cache business rejections in
// idempotency records and reconstruct them on replay.
const (
	errKindInvalidAmount       = "invalid_amount"
	errKindSameAccount         = "same_account"
	errKindUnknownKind         = "unknown_kind"
	errKindInsufficientBalance = "insufficient_balance"
	errKindCurrencyMismatch    = "currency_mismatch"
	errKindAccountNotFound     = "account_not_found"
	errKindConcurrencyConflict = "concurrency_conflict"
	errKindInternal            = "internal"
)

// ErrorKind maps a terminal payment error to its stable identifier.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return errKindInvalidAmount
	case errors.Is(err, ErrSameAccount):
		return errKindSameAccount
	case errors.Is(err, ErrUnknownKind):
		return errKindUnknownKind
	case errors.Is(err, ErrInsufficientBalance):
		return errKindInsufficientBalance
	case errors.Is(err, ErrCurrencyMismatch):
		return errKindCurrencyMismatch
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrTreasuryNotFound):
		return errKindAccountNotFound
	case errors.Is(err, ErrConcurrencyConflict):
		return errKindConcurrencyConflict
	}

	return errKindInternal
}

// ErrorFromKind is the inverse of ErrorKind for cached outcomes.
func ErrorFromKind(kind string) error {
	switch kind {
	case "":
		return nil
	case errKindInvalidAmount:
		return ErrInvalidAmount
	case errKindSameAccount:
		return ErrSameAccount
	case errKindUnknownKind:
		return ErrUnknownKind
	case errKindInsufficientBalance:
		return ErrInsufficientBalance
	case errKindCurrencyMismatch:
		return ErrCurrencyMismatch
	case errKindAccountNotFound:
		return ErrAccountNotFound
	case errKindConcurrencyConflict:
		return ErrConcurrencyConflict
	}

	return errors.New(kind)
}
