package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"

	"github.com/ledgerpay/backend/internal/models"
	"github.com/ledgerpay/backend/internal/signature"
)

// AdminService exposes user CRUD for administrators. All routes are behind
// the admin middleware.
type AdminService struct {
	db        *sql.DB
	validator *validator.Validate
}

// AdminUserRequest is the admin create/update payload.
type AdminUserRequest struct {
	Email    string  `json:"email" validate:"required,email" example:"user@example.com"`
	FullName string  `json:"full_name" validate:"required,min=2" example:"John Doe"`
	Password *string `json:"password,omitempty" validate:"omitempty,min=6"` // Optional on update
}

func NewAdminService(db *sql.DB) *AdminService {
	return &AdminService{db: db, validator: validator.New()}
}

// ListUsers lists all users
// @Summary List users
// @Description List all registered users
// @Tags admin
// @Produce json
// @Success 200 {array} models.User
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /admin/users [get]
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, email, full_name, is_admin, created_at, updated_at
		FROM users ORDER BY id`)
	if err != nil {
		log.Printf("[ADMIN] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan user row: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// CreateUser creates a new user
// @Summary Create user
// @Description Create a new user with email, full name and password
// @Tags admin
// @Accept json
// @Produce json
// @Param request body AdminUserRequest true "User data"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse "Invalid request or email already registered"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Router /admin/users [post]
func (s *AdminService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUserRequest
	if !s.decodeUserRequest(w, r, &req) {
		return
	}
	if req.Password == nil {
		SendErrorResponse(w, "Password is required", http.StatusBadRequest, nil)
		return
	}

	hashedPassword, err := hashPassword(*req.Password)
	if err != nil {
		log.Printf("[ADMIN] Password hashing failed: %v", err)
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	var user models.User
	err = s.db.QueryRow(`
		INSERT INTO users (email, full_name, password)
		VALUES ($1, $2, $3)
		RETURNING id, email, full_name, is_admin, created_at, updated_at`,
		strings.ToLower(req.Email), req.FullName, hashedPassword).
		Scan(&user.ID, &user.Email, &user.FullName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			SendErrorResponse(w, "Email already registered", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[ADMIN] User creation failed: %v", err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] User %d created (%s)", user.ID, user.Email)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// ListUserAccounts lists a user's accounts
// @Summary List a user's accounts
// @Description List all accounts owned by the given user
// @Tags admin
// @Produce json
// @Param userID path int true "User ID"
// @Success 200 {array} models.Account
// @Failure 400 {object} ErrorResponse "Invalid user id"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Router /admin/users/{userID}/accounts [get]
func (s *AdminService) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, account_number, balance_cents, created_at
		FROM accounts WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		log.Printf("[ADMIN] Failed to list accounts for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.BalanceCents, &a.CreatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan account row: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		a.Balance = signature.FormatAmount(a.BalanceCents)
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// UpdateUser updates a user
// @Summary Update user
// @Description Update a user's email, full name and optionally password
// @Tags admin
// @Accept json
// @Produce json
// @Param userID path int true "User ID"
// @Param request body AdminUserRequest true "User data"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /admin/users/{userID} [put]
func (s *AdminService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var req AdminUserRequest
	if !s.decodeUserRequest(w, r, &req) {
		return
	}

	var user models.User
	if req.Password != nil {
		hashedPassword, err := hashPassword(*req.Password)
		if err != nil {
			log.Printf("[ADMIN] Password hashing failed: %v", err)
			SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
			return
		}
		err = s.db.QueryRow(`
			UPDATE users SET email = $1, full_name = $2, password = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING id, email, full_name, is_admin, created_at, updated_at`,
			strings.ToLower(req.Email), req.FullName, hashedPassword, userID).
			Scan(&user.ID, &user.Email, &user.FullName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	} else {
		err = s.db.QueryRow(`
			UPDATE users SET email = $1, full_name = $2, updated_at = NOW()
			WHERE id = $3
			RETURNING id, email, full_name, is_admin, created_at, updated_at`,
			strings.ToLower(req.Email), req.FullName, userID).
			Scan(&user.ID, &user.Email, &user.FullName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[ADMIN] User update failed for %d: %v", userID, err)
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] User %d updated", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// DeleteUser deletes a user
// @Summary Delete user
// @Description Delete a user and return the deleted record
// @Tags admin
// @Produce json
// @Param userID path int true "User ID"
// @Success 200 {object} models.User
// @Failure 400 {object} ErrorResponse "Invalid user id"
// @Failure 403 {object} ErrorResponse "Forbidden"
// @Failure 404 {object} ErrorResponse "User not found"
// @Router /admin/users/{userID} [delete]
func (s *AdminService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var user models.User
	err = s.db.QueryRow(`
		DELETE FROM users WHERE id = $1
		RETURNING id, email, full_name, is_admin, created_at, updated_at`, userID).
		Scan(&user.ID, &user.Email, &user.FullName, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[ADMIN] User deletion failed for %d: %v", userID, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] User %d deleted (%s)", user.ID, user.Email)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (s *AdminService) decodeUserRequest(w http.ResponseWriter, r *http.Request, req *AdminUserRequest) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}
