package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ledgerpay/backend/internal/models"
	"github.com/ledgerpay/backend/internal/signature"
)

const userCacheTTL = 5 * time.Minute

// UserService serves the authenticated user's profile, accounts and
// transaction history. List responses are cached in Redis and invalidated by
// the webhook processor when a payment commits.
type UserService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewUserService(db *sql.DB, redisClient *redis.Client) *UserService {
	return &UserService{db: db, redis: redisClient}
}

// userIDFromContext extracts the authenticated user id placed in the request
// context by the auth middleware.
func userIDFromContext(r *http.Request) (int64, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// GetCurrentUser returns the authenticated user's profile
// @Summary Get current user
// @Description Get the authenticated user's profile
// @Tags users
// @Produce json
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /users/me [get]
func (s *UserService) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		SELECT id, email, full_name, is_admin, created_at, updated_at
		FROM users WHERE id = $1`, userID).
		Scan(&user.ID, &user.Email, &user.FullName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[USER] Failed to fetch user %d: %v", userID, err)
			SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// ListAccounts returns the authenticated user's accounts
// @Summary List own accounts
// @Description List the authenticated user's accounts with formatted balances
// @Tags users
// @Produce json
// @Success 200 {array} models.Account
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /users/me/accounts [get]
func (s *UserService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cacheKey := "user:" + strconv.FormatInt(userID, 10) + ":accounts"
	var accounts []models.Account
	if s.cacheGet(r.Context(), cacheKey, &accounts) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		json.NewEncoder(w).Encode(accounts)
		return
	}

	accounts, err := s.fetchAccounts(userID)
	if err != nil {
		log.Printf("[USER] Failed to fetch accounts for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	s.cacheSet(r.Context(), cacheKey, accounts)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// ListTransactions returns the authenticated user's transactions
// @Summary List own transactions
// @Description List the authenticated user's ledger transactions, newest first
// @Tags users
// @Produce json
// @Success 200 {array} models.Transaction
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /users/me/transactions [get]
func (s *UserService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cacheKey := "user:" + strconv.FormatInt(userID, 10) + ":transactions"
	var transactions []models.Transaction
	if s.cacheGet(r.Context(), cacheKey, &transactions) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", "HIT")
		json.NewEncoder(w).Encode(transactions)
		return
	}

	transactions, err := s.fetchTransactions(userID)
	if err != nil {
		log.Printf("[USER] Failed to fetch transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	s.cacheSet(r.Context(), cacheKey, transactions)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

func (s *UserService) fetchAccounts(userID int64) ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, account_number, balance_cents, created_at
		FROM accounts WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.BalanceCents, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Balance = signature.FormatAmount(a.BalanceCents)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *UserService) fetchTransactions(userID int64) ([]models.Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, transaction_id, user_id, account_id, amount_cents, created_at
		FROM transactions WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.TransactionID, &t.UserID, &t.AccountID, &t.AmountCents, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Amount = signature.FormatAmount(t.AmountCents)
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}

func (s *UserService) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.redis == nil {
		return false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (s *UserService) cacheSet(ctx context.Context, key string, value any) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, userCacheTTL).Err(); err != nil {
		log.Printf("[USER] Failed to cache %s: %v", key, err)
	}
}
