package models

import "time"

// Transaction is an immutable append-only ledger entry. TransactionID is the
// externally-supplied UUID carried by the webhook and is unique across the
// whole table; it is the idempotency key for payment delivery.
type Transaction struct {
	ID            int64     `json:"id" db:"id" example:"1"`
	TransactionID string    `json:"transaction_id" db:"transaction_id" example:"11111111-1111-1111-1111-111111111111"`
	UserID        int64     `json:"user_id" db:"user_id" example:"1"`
	AccountID     int64     `json:"account_id" db:"account_id" example:"1"`
	AmountCents   int64     `json:"-" db:"amount_cents"`
	Amount        string    `json:"amount" example:"50.00"` // Formatted from AmountCents
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
