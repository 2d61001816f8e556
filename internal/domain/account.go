// Package domain provides definitions of all entities.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates that the account is not found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrCurrencyAlreadyExists indicates that the account with the given currency already exists.
	ErrCurrencyAlreadyExists = errors.New("account currency already exists")
	// ErrOwnerNotFound indicates that the owner for the account is not found.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrAccountOwnerMismatch indicates that the account belongs to another user.
	ErrAccountOwnerMismatch = errors.New("account owner mismatch")
	// ErrTreasuryNotFound indicates that no treasury account exists for the currency.
	ErrTreasuryNotFound = errors.New("treasury account not found")
)

// Account kinds. User accounts may never overdraw; treasury accounts are
// gateway-owned settlement accounts and may carry a negative balance.
const (
	AccountKindUser     = "user"
	AccountKindTreasury = "treasury"
)

// Account holds balance data for a specific currency.
//
// Balance and Held are in minor currency units. Held is the total amount
// reserved by in-flight transactions; it is not spendable until the
// reservations are released or committed. Version advances on every mutation
// and backs the optimistic commit protocol.
type Account struct {
	ID        int64     `json:"id"`
	Owner     string    `json:"owner"`
	Kind      string    `json:"kind"`
	Balance   int64     `json:"balance"`
	Held      int64     `json:"held"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Spendable returns the amount the account can commit to new reservations.
func (a Account) Spendable() int64 {
	return a.Balance - a.Held
}

// Reservation is a hold on funds acquired before commit. Version is the
// account version captured right after the hold was placed; commit
// compares-and-swaps against it.
type Reservation struct {
	AccountID int64 `json:"account_id"`
	Amount    int64 `json:"amount"`
	Version   int64 `json:"version"`
}
