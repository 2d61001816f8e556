package domain

import "time"

// Posting is one paired debit/credit leg of a transaction: it debits
// FromAccountID and credits ToAccountID by the same positive amount, so a
// committed transaction nets to zero per currency by construction.
type Posting struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transaction_id"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// ListPostingsParams is the input data to page through an account's postings.
type ListPostingsParams struct {
	AccountID int64 `json:"account_id"`
	Limit     int32 `json:"limit"`
	Offset    int32 `json:"offset"`
}
