package services

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ledgerpay/backend/internal/signature"
)

// UtilsService provides integration helpers for payment senders: UUID
// generation and a signature debug endpoint.
type UtilsService struct {
	secretKey string
}

// SignatureCheckRequest carries the fields a sender would sign.
type SignatureCheckRequest struct {
	AccountID     int64       `json:"account_id" example:"1"`
	Amount        json.Number `json:"amount" swaggertype:"number" example:"50.00"`
	TransactionID string      `json:"transaction_id" example:"11111111-1111-1111-1111-111111111111"`
	UserID        int64       `json:"user_id" example:"1"`
}

func NewUtilsService(secretKey string) *UtilsService {
	return &UtilsService{secretKey: secretKey}
}

// GenerateUUID returns a fresh UUID v4
// @Summary Generate a UUID
// @Description Generate a valid UUID v4 usable as a transaction id
// @Tags utils
// @Produce json
// @Success 200 {object} map[string]string
// @Router /utils/generate-uuid [get]
func (s *UtilsService) GenerateUUID(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"uuid": uuid.NewString()})
}

// SignatureCheck computes the signature for the supplied fields
// @Summary Debug a webhook signature
// @Description Compute the expected signature over caller-supplied payment fields, for integration debugging
// @Tags utils
// @Accept json
// @Produce json
// @Param request body SignatureCheckRequest true "Payment fields"
// @Success 200 {object} map[string]interface{}
// @Failure 422 {object} map[string]string "Malformed amount"
// @Router /utils/signature-check [post]
func (s *UtilsService) SignatureCheck(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req SignatureCheckRequest
	if err := dec.Decode(&req); err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		sendDetailResponse(w, http.StatusUnprocessableEntity, "Invalid data format: request body must only contain a single JSON object")
		return
	}

	amountCents, err := signature.ParseAmount(req.Amount.String())
	if err != nil {
		sendDetailResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid data format: %v", err))
		return
	}

	generated := signature.Sign(req.AccountID, amountCents, req.TransactionID, req.UserID, s.secretKey)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"generated":  generated,
		"input_data": req,
	})
}
