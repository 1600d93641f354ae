package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/martshop/backend/internal/audit"
)

// CheckoutService converts a buyer's cart into a committed PENDING order.
// The debit, order insert, per-item stock decrement, seller payouts and cart
// clear all happen inside one database transaction: no partial state
// survives a failure.
type CheckoutService struct {
	db        *sql.DB
	redis     *redis.Client
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewCheckoutService(db *sql.DB, redisClient *redis.Client) *CheckoutService {
	return &CheckoutService{
		db:        db,
		redis:     redisClient,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// CheckoutRequest represents the checkout request payload
// @Description Checkout request structure
type CheckoutRequest struct {
	UserID          int    `json:"user_id" validate:"required,gt=0" example:"1"`             // Buyer user ID
	ShippingAddress string `json:"shipping_address" validate:"required,max=500" example:""` // Shipping address
}

// checkoutItem is the point-in-time snapshot of one cart line taken before
// the transaction starts. Price is the snapshot written to the order item,
// not the live product price at commit time.
type checkoutItem struct {
	CartItemID int
	ProductID  int
	Quantity   int
	Price      int64
	Stock      int
}

// PlaceOrder handles checkout
// @Summary Place an order from the cart
// @Description Convert the buyer's cart into a PENDING order, debiting the wallet and paying each seller
// @Tags orders
// @Accept json
// @Produce json
// @Param request body CheckoutRequest true "Checkout request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /orders [post]
func (cs *CheckoutService) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CheckoutRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	log.Printf("[CHECKOUT] Checkout request for user %d", req.UserID)

	cartID, items, err := cs.loadCartItems(req.UserID)
	if err != nil {
		if be, ok := AsBusinessError(err); ok {
			log.Printf("[CHECKOUT] Rejected for user %d: %s", req.UserID, be.Message)
			SendBusinessError(w, be)
			return
		}
		log.Printf("[CHECKOUT] Failed to load cart for user %d: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to load cart", http.StatusInternalServerError, nil)
		return
	}

	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}

	tx, err := cs.db.Begin()
	if err != nil {
		log.Printf("[CHECKOUT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to place order", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	orderID, sellerIDs, err := cs.placeOrderTx(tx, req.UserID, cartID, req.ShippingAddress, items, total)
	if err != nil {
		cs.audit.LogError("CHECKOUT", req.UserID, err)
		if be, ok := AsBusinessError(err); ok {
			log.Printf("[CHECKOUT] Aborted for user %d: %s", req.UserID, be.Message)
			SendBusinessError(w, be)
			return
		}
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[CHECKOUT] Failed for user %d: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to place order", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CHECKOUT] Failed to commit transaction: %v", err)
		cs.audit.LogError("CHECKOUT", req.UserID, err)
		SendErrorResponse(w, "Failed to place order", http.StatusInternalServerError, nil)
		return
	}

	cs.audit.LogCheckout(orderID, req.UserID, total, "SUCCESS")
	cs.invalidateBalanceCache(r.Context(), append(sellerIDs, req.UserID)...)

	log.Printf("[CHECKOUT] Order %d placed for user %d, total %d", orderID, req.UserID, total)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Order placed successfully",
		"order_id": orderID,
	})
}

// loadCartItems resolves the buyer's cart and joins each line with the live
// product price and stock. Runs before the transaction; prices captured here
// become the order item snapshots.
func (cs *CheckoutService) loadCartItems(userID int) (int, []checkoutItem, error) {
	var cartID int
	err := cs.db.QueryRow(`SELECT cart_id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, errNoCart()
		}
		return 0, nil, err
	}

	rows, err := cs.db.Query(`
        SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity
        FROM cart_items ci
        JOIN products p ON ci.product_id = p.product_id
        WHERE ci.cart_id = $1
    `, cartID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var items []checkoutItem
	for rows.Next() {
		var item checkoutItem
		if err := rows.Scan(&item.CartItemID, &item.ProductID, &item.Quantity, &item.Price, &item.Stock); err != nil {
			return 0, nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, err
	}

	if len(items) == 0 {
		return 0, nil, errEmptyCart()
	}

	return cartID, items, nil
}

// placeOrderTx runs the checkout sequence inside tx. The buyer's user row is
// locked first so concurrent checkouts by the same buyer serialize on the
// wallet balance. Returns the new order id and the sellers that were paid.
func (cs *CheckoutService) placeOrderTx(tx *sql.Tx, userID, cartID int, address string, items []checkoutItem, total int64) (int, []int, error) {
	var balance int64
	err := tx.QueryRow(`SELECT wallet_balance FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		return 0, nil, err
	}

	if balance < total {
		return 0, nil, errInsufficientFunds(total, balance)
	}

	if _, err := tx.Exec(`UPDATE users SET wallet_balance = wallet_balance - $1 WHERE user_id = $2`, total, userID); err != nil {
		return 0, nil, err
	}

	var orderID int
	err = tx.QueryRow(`
        INSERT INTO orders (user_id, total_amount, shipping_address, status)
        VALUES ($1, $2, $3, 'PENDING') RETURNING order_id
    `, userID, total, address).Scan(&orderID)
	if err != nil {
		return 0, nil, err
	}

	sellerIDs := make([]int, 0, len(items))
	for _, item := range items {
		var sellerID int
		err := tx.QueryRow(`SELECT seller_id FROM products WHERE product_id = $1`, item.ProductID).Scan(&sellerID)
		if err != nil {
			if err == sql.ErrNoRows {
				return 0, nil, fmt.Errorf("seller not found for product %d", item.ProductID)
			}
			return 0, nil, err
		}

		// Guards the gap between the cart snapshot and this transaction.
		if item.Stock < item.Quantity {
			return 0, nil, errOutOfStock(item.ProductID)
		}

		if _, err := tx.Exec(`
            INSERT INTO order_items (order_id, product_id, quantity, price_snapshot)
            VALUES ($1, $2, $3, $4)
        `, orderID, item.ProductID, item.Quantity, item.Price); err != nil {
			return 0, nil, err
		}

		// Conditional decrement: a concurrent checkout that already consumed
		// the stock makes this affect zero rows instead of going negative.
		result, err := tx.Exec(`
            UPDATE products SET stock_quantity = stock_quantity - $1, sales_count = sales_count + $1
            WHERE product_id = $2 AND stock_quantity >= $1
        `, item.Quantity, item.ProductID)
		if err != nil {
			return 0, nil, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, nil, err
		}
		if affected == 0 {
			return 0, nil, errStockRace(item.ProductID)
		}

		// Split payment: each seller is credited immediately, no escrow.
		itemTotal := item.Price * int64(item.Quantity)
		if _, err := tx.Exec(`UPDATE users SET wallet_balance = wallet_balance + $1 WHERE user_id = $2`, itemTotal, sellerID); err != nil {
			return 0, nil, err
		}
		sellerIDs = append(sellerIDs, sellerID)

		if err := flagOffShelfIfDepleted(tx, item.ProductID); err != nil {
			return 0, nil, err
		}
	}

	if _, err := tx.Exec(`DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return 0, nil, err
	}

	return orderID, sellerIDs, nil
}

// flagOffShelfIfDepleted flips a product to off_shelf once its stock reaches
// zero. Shared with the cancellation path, which keeps the same correction.
func flagOffShelfIfDepleted(tx *sql.Tx, productID int) error {
	var stock int
	if err := tx.QueryRow(`SELECT stock_quantity FROM products WHERE product_id = $1`, productID).Scan(&stock); err != nil {
		return err
	}
	if stock <= 0 {
		if _, err := tx.Exec(`UPDATE products SET status = 'off_shelf' WHERE product_id = $1`, productID); err != nil {
			return err
		}
	}
	return nil
}

func (cs *CheckoutService) invalidateBalanceCache(ctx context.Context, userIDs ...int) {
	if cs.redis == nil {
		return
	}
	for _, id := range userIDs {
		key := fmt.Sprintf("wallet:balance:%d", id)
		if err := cs.redis.Del(ctx, key).Err(); err != nil {
			log.Printf("[CHECKOUT] Failed to invalidate balance cache for user %d: %v", id, err)
		}
	}
}
