package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyRequired indicates that the request carries no idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrClaimTimeout indicates that an idempotency claim timed out waiting on an
	// in-flight duplicate request. The caller may retry.
	ErrClaimTimeout = errors.New("timed out waiting for in-flight duplicate request")
	// ErrKeyAlreadyClaimed indicates that another request already claimed the key.
	ErrKeyAlreadyClaimed = errors.New("idempotency key already claimed")
	// ErrRecordNotFound indicates that no idempotency record exists for the key.
	ErrRecordNotFound = errors.New("idempotency record not found")
	// ErrOutcomeAlreadyRecorded indicates an attempt to overwrite a recorded outcome.
	ErrOutcomeAlreadyRecorded = errors.New("idempotency outcome already recorded")
)

// PaymentOutcome is the externally reported outcome of a payment, cached in
// the idempotency record once the transaction reaches a terminal state.
// Either ErrorKind is empty and Result is set, or vice versa.
type PaymentOutcome struct {
	TransactionID string         `json:"transaction_id"`
	Status        Status         `json:"status"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	Result        *PaymentResult `json:"result,omitempty"`
}

// IdempotencyRecord maps a client-supplied key to its transaction and cached
// outcome. The outcome is written exactly once and never overwritten.
type IdempotencyRecord struct {
	Key           string          `json:"key"`
	TransactionID string          `json:"transaction_id"`
	Outcome       *PaymentOutcome `json:"outcome,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ClaimResult is the outcome of claiming an idempotency key. Exactly one
// concurrent claimant observes Fresh; the rest receive the first claimant's
// cached outcome.
type ClaimResult struct {
	Fresh   bool            `json:"fresh"`
	Outcome *PaymentOutcome `json:"outcome,omitempty"`
}
