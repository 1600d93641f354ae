package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/martshop/backend/internal/models"
)

// CartService is the read/write path feeding checkout. Carts are created
// lazily on the first add.
type CartService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewCartService(db *sql.DB) *CartService {
	return &CartService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// AddToCartRequest represents an add-to-cart payload
// @Description Add to cart request structure
type AddToCartRequest struct {
	UserID    int `json:"user_id" validate:"required,gt=0"`    // User ID
	ProductID int `json:"product_id" validate:"required,gt=0"` // Product ID
	Quantity  int `json:"quantity" validate:"omitempty,gt=0"`  // Defaults to 1
}

// GetCart retrieves the user's cart with joined product data
// @Summary Get cart
// @Description Retrieve the user's cart items with live price and stock
// @Tags cart
// @Produce json
// @Param user_id query int true "User ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /cart [get]
func (cs *CartService) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.URL.Query().Get("user_id"))
	if err != nil || userID <= 0 {
		SendErrorResponse(w, "user_id is required", http.StatusBadRequest, nil)
		return
	}

	var cartID int
	err = cs.db.QueryRow(`SELECT cart_id FROM carts WHERE user_id = $1`, userID).Scan(&cartID)
	if err == sql.ErrNoRows {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Cart empty",
			"items":   []models.CartItemDetail{},
		})
		return
	}
	if err != nil {
		log.Printf("[CART] Failed to fetch cart for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch cart", http.StatusInternalServerError, nil)
		return
	}

	rows, err := cs.db.Query(`
        SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.name, p.price, p.stock_quantity
        FROM cart_items ci
        JOIN products p ON ci.product_id = p.product_id
        WHERE ci.cart_id = $1
    `, cartID)
	if err != nil {
		log.Printf("[CART] Failed to fetch cart items for cart %d: %v", cartID, err)
		SendErrorResponse(w, "Failed to fetch cart", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	items := []models.CartItemDetail{}
	for rows.Next() {
		var item models.CartItemDetail
		if err := rows.Scan(&item.CartItemID, &item.ProductID, &item.Quantity, &item.Name, &item.Price, &item.StockQuantity); err != nil {
			SendErrorResponse(w, "Failed to fetch cart", http.StatusInternalServerError, nil)
			return
		}
		items = append(items, item)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cart_id": cartID,
		"items":   items,
	})
}

// AddToCart adds a product to the user's cart
// @Summary Add to cart
// @Description Add a product to the cart, creating the cart if needed; quantities accumulate
// @Tags cart
// @Accept json
// @Produce json
// @Param request body AddToCartRequest true "Add to cart request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /cart [post]
func (cs *CartService) AddToCart(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req AddToCartRequest
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

	if req.Quantity == 0 {
		req.Quantity = 1
	}

	var cartID int
	err := cs.db.QueryRow(`SELECT cart_id FROM carts WHERE user_id = $1`, req.UserID).Scan(&cartID)
	if err == sql.ErrNoRows {
		err = cs.db.QueryRow(`INSERT INTO carts (user_id) VALUES ($1) RETURNING cart_id`, req.UserID).Scan(&cartID)
	}
	if err != nil {
		log.Printf("[CART] Failed to resolve cart for user %d: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to add to cart", http.StatusInternalServerError, nil)
		return
	}

	var cartItemID, quantity int
	err = cs.db.QueryRow(`SELECT cart_item_id, quantity FROM cart_items WHERE cart_id = $1 AND product_id = $2`,
		cartID, req.ProductID).Scan(&cartItemID, &quantity)
	switch err {
	case nil:
		_, err = cs.db.Exec(`UPDATE cart_items SET quantity = $1 WHERE cart_item_id = $2`,
			quantity+req.Quantity, cartItemID)
	case sql.ErrNoRows:
		_, err = cs.db.Exec(`INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)`,
			cartID, req.ProductID, req.Quantity)
	}
	if err != nil {
		log.Printf("[CART] Failed to add product %d to cart %d: %v", req.ProductID, cartID, err)
		SendErrorResponse(w, "Failed to add to cart", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[CART] User %d added product %d x%d to cart %d", req.UserID, req.ProductID, req.Quantity, cartID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Added to cart",
		"cart_id": cartID,
	})
}

// RemoveItem removes one item from the user's cart
// @Summary Remove cart item
// @Description Remove a cart item; the item must belong to the user's own cart
// @Tags cart
// @Produce json
// @Param user_id query int true "User ID"
// @Param cart_item_id query int true "Cart item ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /cart [delete]
func (cs *CartService) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.Atoi(r.URL.Query().Get("user_id"))
	cartItemID, _ := strconv.Atoi(r.URL.Query().Get("cart_item_id"))

	if userID <= 0 || cartItemID <= 0 {
		SendErrorResponse(w, "user_id and cart_item_id are required", http.StatusBadRequest, nil)
		return
	}

	result, err := cs.db.Exec(`
        DELETE FROM cart_items
        WHERE cart_item_id = $1 AND cart_id IN (SELECT cart_id FROM carts WHERE user_id = $2)
    `, cartItemID, userID)
	if err != nil {
		log.Printf("[CART] Failed to remove cart item %d: %v", cartItemID, err)
		SendErrorResponse(w, "Failed to remove item", http.StatusInternalServerError, nil)
		return
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Item not found or not authorized", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Item removed"})
}
