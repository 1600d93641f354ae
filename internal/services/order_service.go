package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/martshop/backend/internal/audit"
	"github.com/martshop/backend/internal/models"
)

// OrderService owns the order status transitions. PENDING is the only
// mutable state; COMPLETED and CANCELLED are terminal.
type OrderService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewOrderService(db *sql.DB) *OrderService {
	return &OrderService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// OrderActionRequest represents a status transition request
// @Description Order action request structure
type OrderActionRequest struct {
	OrderID int    `json:"order_id" validate:"required,gt=0" example:"1"`                 // Order ID
	UserID  int    `json:"user_id" validate:"required,gt=0" example:"1"`                  // Requesting user ID
	Action  string `json:"action" validate:"required,oneof=cancel complete"`              // cancel or complete
	Reason  string `json:"reason" validate:"max=500" example:"Ordered the wrong size"`    // Required for cancel
}

// UpdateOrder handles order status transitions
// @Summary Cancel or complete an order
// @Description Cancel a PENDING order (restoring stock) or mark it completed
// @Tags orders
// @Accept json
// @Produce json
// @Param request body OrderActionRequest true "Order action"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /orders [put]
func (os *OrderService) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req OrderActionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := os.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	switch req.Action {
	case "cancel":
		if req.Reason == "" {
			SendErrorResponse(w, "Cancellation reason is required", http.StatusBadRequest, nil)
			return
		}
		os.cancelOrder(w, req)
	case "complete":
		os.completeOrder(w, req)
	}
}

func (os *OrderService) cancelOrder(w http.ResponseWriter, req OrderActionRequest) {
	log.Printf("[ORDER] Cancel request for order %d by user %d", req.OrderID, req.UserID)

	tx, err := os.db.Begin()
	if err != nil {
		log.Printf("[ORDER] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to cancel order", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := os.cancelOrderTx(tx, req.OrderID, req.Reason); err != nil {
		os.audit.LogError("CANCELLATION", req.UserID, err)
		if be, ok := AsBusinessError(err); ok {
			log.Printf("[ORDER] Cancel rejected for order %d: %s", req.OrderID, be.Message)
			SendBusinessError(w, be)
			return
		}
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[ORDER] Failed to cancel order %d: %v", req.OrderID, err)
		SendErrorResponse(w, "Failed to cancel order", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ORDER] Failed to commit cancellation: %v", err)
		os.audit.LogError("CANCELLATION", req.UserID, err)
		SendErrorResponse(w, "Failed to cancel order", http.StatusInternalServerError, nil)
		return
	}

	os.audit.LogCancellation(req.OrderID, req.UserID, req.Reason)
	log.Printf("[ORDER] Order %d cancelled", req.OrderID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Order cancelled"})
}

// cancelOrderTx reverses a pending order's stock effects. The order row is
// locked before the status check so two concurrent cancellations (or a
// cancel racing a complete) serialize instead of both passing the guard.
// The buyer's wallet is NOT refunded here; refunds are handled out of band.
func (os *OrderService) cancelOrderTx(tx *sql.Tx, orderID int, reason string) error {
	var status string
	err := tx.QueryRow(`SELECT status FROM orders WHERE order_id = $1 FOR UPDATE`, orderID).Scan(&status)
	if err != nil {
		return err
	}
	if status != models.OrderStatusPending {
		return errInvalidState(status)
	}

	if _, err := tx.Exec(`UPDATE orders SET status = 'CANCELLED', cancellation_reason = $1 WHERE order_id = $2`, reason, orderID); err != nil {
		return err
	}

	rows, err := tx.Query(`SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type restockItem struct {
		ProductID int
		Quantity  int
	}
	var items []restockItem
	for rows.Next() {
		var item restockItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, item := range items {
		if _, err := tx.Exec(`
            UPDATE products SET stock_quantity = stock_quantity + $1, sales_count = sales_count - $1
            WHERE product_id = $2
        `, item.Quantity, item.ProductID); err != nil {
			return err
		}

		// Restocking does not re-activate an off-shelf product; that stays
		// an explicit seller action.
		if err := flagOffShelfIfDepleted(tx, item.ProductID); err != nil {
			return err
		}
	}

	return nil
}

// completeOrder marks a PENDING order as COMPLETED. The status guard is in
// the statement itself so a terminal order can never be overwritten.
func (os *OrderService) completeOrder(w http.ResponseWriter, req OrderActionRequest) {
	log.Printf("[ORDER] Complete request for order %d by user %d", req.OrderID, req.UserID)

	result, err := os.db.Exec(`UPDATE orders SET status = 'COMPLETED' WHERE order_id = $1 AND status = 'PENDING'`, req.OrderID)
	if err != nil {
		log.Printf("[ORDER] Failed to complete order %d: %v", req.OrderID, err)
		SendErrorResponse(w, "Failed to complete order", http.StatusInternalServerError, nil)
		return
	}

	affected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to complete order", http.StatusInternalServerError, nil)
		return
	}
	if affected == 0 {
		var status string
		err := os.db.QueryRow(`SELECT status FROM orders WHERE order_id = $1`, req.OrderID).Scan(&status)
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		if err != nil {
			SendErrorResponse(w, "Failed to complete order", http.StatusInternalServerError, nil)
			return
		}
		SendBusinessError(w, errInvalidState(status))
		return
	}

	log.Printf("[ORDER] Order %d marked as completed", req.OrderID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Order marked as completed"})
}

// ListOrders retrieves orders for a buyer or a seller
// @Summary List orders
// @Description List a buyer's orders with items, or orders containing a seller's products
// @Tags orders
// @Produce json
// @Param user_id query int false "Buyer user ID"
// @Param seller_id query int false "Seller user ID"
// @Success 200 {array} models.Order
// @Failure 500 {object} ErrorResponse
// @Router /orders [get]
func (os *OrderService) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.Atoi(r.URL.Query().Get("user_id"))
	sellerID, _ := strconv.Atoi(r.URL.Query().Get("seller_id"))

	var rows *sql.Rows
	var err error

	if userID > 0 {
		rows, err = os.db.Query(`
            SELECT o.order_id, o.user_id, o.total_amount, o.status, o.shipping_address,
                   o.cancellation_reason, o.order_date,
                   oi.quantity, oi.price_snapshot, p.name, p.image_url
            FROM orders o
            LEFT JOIN order_items oi ON o.order_id = oi.order_id
            LEFT JOIN products p ON oi.product_id = p.product_id
            WHERE o.user_id = $1
            ORDER BY o.order_date DESC
        `, userID)
	} else if sellerID > 0 {
		// Seller view lists only the items that belong to the seller.
		rows, err = os.db.Query(`
            SELECT o.order_id, o.user_id, o.total_amount, o.status, o.shipping_address,
                   o.cancellation_reason, o.order_date,
                   oi.quantity, oi.price_snapshot, p.name, p.image_url
            FROM orders o
            JOIN order_items oi ON o.order_id = oi.order_id
            JOIN products p ON oi.product_id = p.product_id
            WHERE p.seller_id = $1
            ORDER BY o.order_date DESC
        `, sellerID)
	} else {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]models.Order{})
		return
	}

	if err != nil {
		log.Printf("[ORDER] Failed to list orders: %v", err)
		SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	orders := []*models.Order{}
	index := map[int]*models.Order{}
	for rows.Next() {
		var o models.Order
		var quantity sql.NullInt64
		var price sql.NullInt64
		var name, imageURL sql.NullString

		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalAmount, &o.Status, &o.ShippingAddress,
			&o.CancellationReason, &o.OrderDate, &quantity, &price, &name, &imageURL); err != nil {
			log.Printf("[ORDER] Failed to scan order row: %v", err)
			SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
			return
		}

		order, ok := index[o.ID]
		if !ok {
			o.Items = []models.OrderLine{}
			order = &o
			index[o.ID] = order
			orders = append(orders, order)
		}

		if name.Valid {
			order.Items = append(order.Items, models.OrderLine{
				Name:     name.String,
				Price:    price.Int64,
				Quantity: int(quantity.Int64),
				ImageURL: imageURL.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch orders", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}
