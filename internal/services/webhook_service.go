package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ledgerpay/backend/internal/signature"
	"github.com/ledgerpay/backend/internal/store"
)

// WebhookService applies signed payment notifications to account balances,
// recording each as an immutable ledger transaction. The webhook endpoint is
// unauthenticated; its trust boundary is the payload signature.
type WebhookService struct {
	store     *store.LedgerStore
	redis     *redis.Client
	validator *ValidationHelper
	secretKey string
}

// PaymentNotification is the webhook request payload.
type PaymentNotification struct {
	TransactionID string      `json:"transaction_id" validate:"required" example:"11111111-1111-1111-1111-111111111111"` // Idempotency key
	UserID        int64       `json:"user_id" validate:"required,gt=0" example:"1"`
	AccountID     int64       `json:"account_id" validate:"required,gt=0" example:"1"`
	Amount        json.Number `json:"amount" validate:"required" swaggertype:"number" example:"50.00"`
	Signature     string      `json:"signature" validate:"required,hexadecimal"`
}

// PaymentResult is the webhook success response body.
type PaymentResult struct {
	Status        string `json:"status" example:"success"`
	NewBalance    string `json:"new_balance" example:"150.00"`
	TransactionID string `json:"transaction_id" example:"11111111-1111-1111-1111-111111111111"`
	AccountID     int64  `json:"account_id" example:"1"`
}

// errUnknownUser marks a payment referencing a user that does not exist.
var errUnknownUser = errors.New("user not found")

func NewWebhookService(db *sql.DB, redisClient *redis.Client, secretKey string) *WebhookService {
	return &WebhookService{
		store:     store.NewLedgerStore(db),
		redis:     redisClient,
		validator: NewValidationHelper(),
		secretKey: secretKey,
	}
}

// HandlePayment processes an incoming payment notification
// @Summary Apply a payment notification
// @Description Verify the payload signature and apply the payment to the account balance, recording an immutable transaction. Replays of the same transaction_id are rejected with 409 and never change the balance.
// @Tags webhook
// @Accept json
// @Produce json
// @Param notification body PaymentNotification true "Payment notification"
// @Success 200 {object} PaymentResult "Payment applied"
// @Failure 403 {object} map[string]interface{} "Signature mismatch"
// @Failure 404 {object} map[string]string "Unknown user"
// @Failure 409 {object} map[string]string "Duplicate transaction"
// @Failure 422 {object} map[string]string "Malformed amount or transaction id"
// @Failure 500 {object} map[string]string "Persistence failure"
// @Router /webhook/payment [post]
func (ws *WebhookService) HandlePayment(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var payload PaymentNotification
	if err := dec.Decode(&payload); err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		sendDetailResponse(w, http.StatusUnprocessableEntity, "Invalid data format: request body must only contain a single JSON object")
		return
	}

	if err := ws.validator.ValidateStruct(&payload); err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}

	// Normalize amount to fixed two-decimal precision without a float round
	// trip, so the signature check sees exactly what the sender signed.
	amountCents, err := signature.ParseAmount(payload.Amount.String())
	if err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}
	if amountCents <= 0 {
		sendDetailResponse(w, http.StatusUnprocessableEntity, "Invalid data format: amount must be positive")
		return
	}

	parsed, err := uuid.Parse(strings.TrimSpace(payload.TransactionID))
	if err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}
	transactionID := parsed.String()

	if !signature.Verify(payload.AccountID, amountCents, transactionID, payload.UserID, ws.secretKey, payload.Signature) {
		expected := signature.Sign(payload.AccountID, amountCents, transactionID, payload.UserID, ws.secretKey)
		log.Printf("[WEBHOOK] Signature mismatch for transaction %s (expected %s, received %s)",
			transactionID, expected, payload.Signature)
		// The expected digest is intentionally disclosed for integration
		// debugging; it does not reveal the secret.
		sendDetailResponse(w, http.StatusForbidden, map[string]string{
			"error":    "Invalid signature",
			"expected": expected,
			"received": payload.Signature,
			"hint":     "Check if secret keys match and data formats are identical",
		})
		return
	}

	result, err := ws.applyPayment(r.Context(), transactionID, payload.UserID, payload.AccountID, amountCents)
	switch {
	case errors.Is(err, store.ErrDuplicateTransaction):
		log.Printf("[WEBHOOK] Duplicate transaction rejected: %s", transactionID)
		sendDetailResponse(w, http.StatusConflict, "Transaction already processed")
	case errors.Is(err, errUnknownUser):
		log.Printf("[WEBHOOK] Payment %s references unknown user %d", transactionID, payload.UserID)
		sendDetailResponse(w, http.StatusNotFound, "User not found")
	case err != nil:
		log.Printf("[WEBHOOK] Payment %s failed: %v", transactionID, err)
		sendDetailResponse(w, http.StatusInternalServerError, "Transaction processing failed")
	default:
		log.Printf("[WEBHOOK] Payment %s applied to account %d, new balance %s",
			transactionID, result.AccountID, result.NewBalance)
		ws.invalidateUserCaches(r.Context(), payload.UserID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// applyPayment runs the dedupe check, account resolution, balance mutation
// and ledger insert as one atomic scope. A failure at any step rolls back
// every prior mutation; balance change and transaction row land together or
// not at all.
func (ws *WebhookService) applyPayment(ctx context.Context, transactionID string, userID, accountID, amountCents int64) (*PaymentResult, error) {
	var result *PaymentResult

	err := ws.store.RunInTransaction(ctx, func(tx *sql.Tx) error {
		// Dedupe pre-check. This is an optimization for the common replay
		// case; the unique constraint on transaction_id is the arbiter for
		// concurrent deliveries.
		exists, err := ws.store.TransactionExists(tx, transactionID)
		if err != nil {
			return err
		}
		if exists {
			return store.ErrDuplicateTransaction
		}

		known, err := ws.store.UserExists(tx, userID)
		if err != nil {
			return err
		}
		if !known {
			return errUnknownUser
		}

		account, err := ws.store.FindAccountForUpdate(tx, accountID, userID)
		if err != nil {
			return err
		}
		if account == nil {
			// First reference to this account id: create it with zero
			// balance inside the same atomic scope.
			account, err = ws.store.CreateAccount(tx, accountID, userID)
			if err != nil {
				return err
			}
		}

		newBalance, err := ws.store.AdjustBalance(tx, account.ID, amountCents)
		if err != nil {
			return err
		}

		if err := ws.store.InsertTransaction(tx, transactionID, userID, accountID, amountCents); err != nil {
			return err
		}

		result = &PaymentResult{
			Status:        "success",
			NewBalance:    signature.FormatAmount(newBalance),
			TransactionID: transactionID,
			AccountID:     accountID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// invalidateUserCaches drops the owner's cached account and transaction lists
// after a committed payment.
func (ws *WebhookService) invalidateUserCaches(ctx context.Context, userID int64) {
	if ws.redis == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("user:%d:accounts", userID),
		fmt.Sprintf("user:%d:transactions", userID),
	}
	if err := ws.redis.Del(ctx, keys...).Err(); err != nil {
		log.Printf("[WEBHOOK] Cache invalidation failed for user %d: %v", userID, err)
	}
}
