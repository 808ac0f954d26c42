package models

import "time"

// Account is a balance holder. Balances are stored as integer cents and
// rendered as fixed two-decimal strings at the API edge. Accounts referenced
// by a webhook before they exist are created lazily with a zero balance.
type Account struct {
	ID            int64     `json:"id" db:"id" example:"1"`
	UserID        int64     `json:"user_id" db:"user_id" example:"1"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	BalanceCents  int64     `json:"-" db:"balance_cents"`
	Balance       string    `json:"balance" example:"150.00"` // Formatted from BalanceCents
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
