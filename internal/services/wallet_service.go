package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lib/pq"
	"github.com/martshop/backend/internal/audit"
	"github.com/martshop/backend/internal/models"
)

const balanceCacheTTL = 30 * time.Second

// WalletService owns wallet reads and the redemption transaction. A
// redemption serializes on the code row lock, so attempts against the same
// code queue up while different codes proceed in parallel.
type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, redisClient *redis.Client) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// RedeemRequest represents a redemption request payload
// @Description Redemption request structure
type RedeemRequest struct {
	UserID int    `json:"user_id" validate:"required,gt=0" example:"1"`       // User ID
	Code   string `json:"code" validate:"required,max=64" example:"WELCOME20"` // Redemption code
}

type balanceResponse struct {
	Balance int64  `json:"balance"` // in cents
	Role    string `json:"role"`
}

// GetBalance retrieves a user's wallet balance
// @Summary Get wallet balance
// @Description Retrieve the wallet balance and role for a user
// @Tags wallet
// @Produce json
// @Param user_id query int true "User ID"
// @Success 200 {object} balanceResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet [get]
func (ws *WalletService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.URL.Query().Get("user_id"))
	if err != nil || userID <= 0 {
		SendErrorResponse(w, "user_id is required", http.StatusBadRequest, nil)
		return
	}

	ctx := r.Context()
	cacheKey := fmt.Sprintf("wallet:balance:%d", userID)

	if ws.redis != nil {
		if cached, err := ws.redis.Get(ctx, cacheKey).Result(); err == nil {
			var resp balanceResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(resp)
				return
			}
		}
	}

	var resp balanceResponse
	err = ws.db.QueryRow(`SELECT wallet_balance, role FROM users WHERE user_id = $1`, userID).Scan(&resp.Balance, &resp.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WALLET] Failed to fetch balance for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	if ws.redis != nil {
		if data, err := json.Marshal(resp); err == nil {
			if err := ws.redis.Set(ctx, cacheKey, data, balanceCacheTTL).Err(); err != nil {
				log.Printf("[WALLET] Failed to cache balance for user %d: %v", userID, err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Redeem handles redemption code consumption
// @Summary Redeem a code
// @Description Atomically consume one use of a redemption code and credit the wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Param request body RedeemRequest true "Redemption request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /wallet [post]
func (ws *WalletService) Redeem(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req RedeemRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[WALLET] Redemption attempt by user %d", req.UserID)

	tx, err := ws.db.Begin()
	if err != nil {
		log.Printf("[WALLET] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to redeem code", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	codeID, value, err := ws.redeemTx(tx, req.UserID, req.Code)
	if err != nil {
		ws.audit.LogError("REDEMPTION", req.UserID, err)
		if be, ok := AsBusinessError(err); ok {
			log.Printf("[WALLET] Redemption rejected for user %d: %s", req.UserID, be.Message)
			SendBusinessError(w, be)
			return
		}
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[WALLET] Redemption failed for user %d: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to redeem code", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WALLET] Failed to commit redemption: %v", err)
		ws.audit.LogError("REDEMPTION", req.UserID, err)
		SendErrorResponse(w, "Failed to redeem code", http.StatusInternalServerError, nil)
		return
	}

	ws.audit.LogRedemption(codeID, req.UserID, value)
	ws.invalidateBalanceCache(r.Context(), req.UserID)

	log.Printf("[WALLET] User %d redeemed code %d for %d", req.UserID, codeID, value)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":     "Wallet credited",
		"added_value": value,
	})
}

// redeemTx consumes one use of a code inside tx. The code row is locked
// first (not the user row): attempts against the same shared counter
// serialize, while different codes never contend.
func (ws *WalletService) redeemTx(tx *sql.Tx, userID int, code string) (int, int64, error) {
	var rc models.RedemptionCode
	err := tx.QueryRow(`
        SELECT code_id, value, max_uses, current_uses FROM redemption_codes
        WHERE code = $1 FOR UPDATE
    `, code).Scan(&rc.ID, &rc.Value, &rc.MaxUses, &rc.CurrentUses)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, 0, errInvalidCode()
		}
		return 0, 0, err
	}

	if rc.CurrentUses >= rc.MaxUses {
		return 0, 0, errUsageLimitReached()
	}

	// Per-user one-time-use: separate from the global cap.
	var historyID int
	err = tx.QueryRow(`SELECT id FROM redemption_history WHERE code_id = $1 AND user_id = $2`, rc.ID, userID).Scan(&historyID)
	if err == nil {
		return 0, 0, errAlreadyRedeemed()
	}
	if err != sql.ErrNoRows {
		return 0, 0, err
	}

	if _, err := tx.Exec(`UPDATE redemption_codes SET current_uses = current_uses + 1 WHERE code_id = $1`, rc.ID); err != nil {
		return 0, 0, err
	}

	if _, err := tx.Exec(`INSERT INTO redemption_history (code_id, user_id) VALUES ($1, $2)`, rc.ID, userID); err != nil {
		// The unique pair constraint backstops the application check above.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, 0, errAlreadyRedeemed()
		}
		return 0, 0, err
	}

	result, err := tx.Exec(`UPDATE users SET wallet_balance = wallet_balance + $1 WHERE user_id = $2`, rc.Value, userID)
	if err != nil {
		return 0, 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if affected == 0 {
		return 0, 0, sql.ErrNoRows
	}

	return rc.ID, rc.Value, nil
}

// ListCodes retrieves all redemption codes
// @Summary List redemption codes
// @Description List all redemption codes with usage counters (admin only)
// @Tags admin
// @Produce json
// @Param admin_id query int true "Admin user ID"
// @Success 200 {array} models.RedemptionCode
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /admin/codes [get]
func (ws *WalletService) ListCodes(w http.ResponseWriter, r *http.Request) {
	adminID, _ := strconv.Atoi(r.URL.Query().Get("admin_id"))
	if !ws.isAdmin(adminID) {
		SendErrorResponse(w, "Unauthorized", http.StatusForbidden, nil)
		return
	}

	rows, err := ws.db.Query(`
        SELECT code_id, code, value, max_uses, current_uses, created_at
        FROM redemption_codes ORDER BY created_at DESC
    `)
	if err != nil {
		log.Printf("[WALLET] Failed to list codes: %v", err)
		SendErrorResponse(w, "Failed to fetch codes", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	codes := []models.RedemptionCode{}
	for rows.Next() {
		var rc models.RedemptionCode
		if err := rows.Scan(&rc.ID, &rc.Code, &rc.Value, &rc.MaxUses, &rc.CurrentUses, &rc.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch codes", http.StatusInternalServerError, nil)
			return
		}
		codes = append(codes, rc)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(codes)
}

// CreateCodeRequest represents a code creation payload
// @Description Code creation request structure
type CreateCodeRequest struct {
	AdminID int    `json:"admin_id" validate:"required,gt=0"`       // Admin user ID
	Code    string `json:"code" validate:"required,max=64"`         // Code string
	Value   int64  `json:"value" validate:"required,gt=0"`          // Credit amount in cents
	MaxUses int    `json:"max_uses" validate:"required,gte=1"`      // Global usage cap
}

// CreateCode creates a redemption code
// @Summary Create a redemption code
// @Description Create a new redemption code (admin only)
// @Tags admin
// @Accept json
// @Produce json
// @Param request body CreateCodeRequest true "Code creation request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /admin/codes [post]
func (ws *WalletService) CreateCode(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateCodeRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !ws.isAdmin(req.AdminID) {
		SendErrorResponse(w, "Unauthorized", http.StatusForbidden, nil)
		return
	}

	_, err := ws.db.Exec(`INSERT INTO redemption_codes (code, value, max_uses) VALUES ($1, $2, $3)`,
		req.Code, req.Value, req.MaxUses)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			SendErrorResponse(w, "Code already exists", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[WALLET] Failed to create code: %v", err)
		SendErrorResponse(w, "Failed to create code", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[WALLET] Admin %d created code %s", req.AdminID, req.Code)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Created code successfully", "code": req.Code})
}

// DeleteCode removes a redemption code
// @Summary Delete a redemption code
// @Description Delete a redemption code by id (admin only)
// @Tags admin
// @Produce json
// @Param admin_id query int true "Admin user ID"
// @Param code_id query int true "Code ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/codes [delete]
func (ws *WalletService) DeleteCode(w http.ResponseWriter, r *http.Request) {
	adminID, _ := strconv.Atoi(r.URL.Query().Get("admin_id"))
	codeID, _ := strconv.Atoi(r.URL.Query().Get("code_id"))

	if !ws.isAdmin(adminID) {
		SendErrorResponse(w, "Unauthorized", http.StatusForbidden, nil)
		return
	}

	result, err := ws.db.Exec(`DELETE FROM redemption_codes WHERE code_id = $1`, codeID)
	if err != nil {
		log.Printf("[WALLET] Failed to delete code %d: %v", codeID, err)
		SendErrorResponse(w, "Failed to delete code", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Code not found", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Deleted"})
}

func (ws *WalletService) isAdmin(userID int) bool {
	if userID <= 0 {
		return false
	}
	var role string
	if err := ws.db.QueryRow(`SELECT role FROM users WHERE user_id = $1`, userID).Scan(&role); err != nil {
		return false
	}
	return role == models.RoleAdmin
}

func (ws *WalletService) invalidateBalanceCache(ctx context.Context, userID int) {
	if ws.redis == nil {
		return
	}
	key := fmt.Sprintf("wallet:balance:%d", userID)
	if err := ws.redis.Del(ctx, key).Err(); err != nil {
		log.Printf("[WALLET] Failed to invalidate balance cache for user %d: %v", userID, err)
	}
}
