package models

import "time"

// User represents an identity record. A user owns zero or more accounts
// and transactions.
type User struct {
	ID        int64     `json:"id" db:"id" example:"1"`                      // User ID
	Email     string    `json:"email" db:"email" example:"user@example.com"` // Unique email address
	FullName  string    `json:"full_name" db:"full_name" example:"John Doe"` // Display name
	Password  string    `json:"-" db:"password"`                             // Argon2id hash, never serialized
	IsAdmin   bool      `json:"is_admin" db:"is_admin"`                      // Admin flag
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
