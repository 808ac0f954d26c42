// Package store provides transactional persistence for the payment ledger:
// users, accounts and transactions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ledgerpay/backend/internal/models"
)

// ErrDuplicateTransaction is returned when an insert hits the unique
// constraint on transactions.transaction_id. The constraint, not the dedupe
// pre-check, is what makes concurrent webhook retries safe.
var ErrDuplicateTransaction = errors.New("transaction already processed")

const uniqueViolation = "23505"

type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// RunInTransaction executes fn inside a single database transaction. The
// transaction commits only when fn returns nil; every other exit path rolls
// back all mutations made in the scope.
func (s *LedgerStore) RunInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TransactionExists reports whether a ledger entry with the given external
// transaction id is already recorded.
func (s *LedgerStore) TransactionExists(tx *sql.Tx, transactionID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM transactions WHERE transaction_id = $1)`,
		transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("transaction lookup failed: %w", err)
	}
	return exists, nil
}

func (s *LedgerStore) UserExists(tx *sql.Tx, userID int64) (bool, error) {
	var exists bool
	err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("user lookup failed: %w", err)
	}
	return exists, nil
}

// FindAccountForUpdate loads the account owned by userID and locks its row
// for the remainder of the transaction, serializing concurrent balance
// mutations against the same account. Returns nil when no such account
// exists.
func (s *LedgerStore) FindAccountForUpdate(tx *sql.Tx, accountID, userID int64) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, user_id, account_number, balance_cents, created_at
		FROM accounts
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, accountID, userID).
		Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.BalanceCents, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account lookup failed: %w", err)
	}
	return &account, nil
}

// CreateAccount creates an account with a zero balance and a fresh account
// number. Accounts referenced by a webhook before they exist are created
// lazily; this is documented policy, not an error. Two first-reference
// payments can race here, so the insert tolerates an existing row and falls
// back to locking it.
func (s *LedgerStore) CreateAccount(tx *sql.Tx, accountID, userID int64) (*models.Account, error) {
	account := &models.Account{
		ID:            accountID,
		UserID:        userID,
		AccountNumber: uuid.NewString(),
	}
	err := tx.QueryRow(`
		INSERT INTO accounts (id, user_id, account_number, balance_cents)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`, accountID, userID, account.AccountNumber).
		Scan(&account.CreatedAt)
	if err == sql.ErrNoRows {
		// A concurrent payment created the row first; lock the winner's row.
		existing, err := s.FindAccountForUpdate(tx, accountID, userID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("account %d already exists with a different owner", accountID)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account creation failed: %w", err)
	}
	return account, nil
}

// AdjustBalance applies delta to the account row and returns the new balance.
// Callers must hold the row lock taken by FindAccountForUpdate or have
// created the row in the same transaction.
func (s *LedgerStore) AdjustBalance(tx *sql.Tx, accountID, deltaCents int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(`
		UPDATE accounts
		SET balance_cents = balance_cents + $1
		WHERE id = $2
		RETURNING balance_cents`, deltaCents, accountID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance update failed: %w", err)
	}
	return balance, nil
}

// InsertTransaction appends the ledger entry. A unique violation on
// transaction_id means another delivery of the same payment won the race and
// is reported as ErrDuplicateTransaction.
func (s *LedgerStore) InsertTransaction(tx *sql.Tx, transactionID string, userID, accountID, amountCents int64) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (transaction_id, user_id, account_id, amount_cents)
		VALUES ($1, $2, $3, $4)`, transactionID, userID, accountID, amountCents)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateTransaction
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}
