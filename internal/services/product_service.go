package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/martshop/backend/internal/models"
)

// ProductService is the CRUD collaborator for product listings. Stock and
// sales counters are never mutated here; only the checkout and cancellation
// transactions touch them.
type ProductService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewProductService(db *sql.DB) *ProductService {
	return &ProductService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// ProductRequest represents a product create/update payload
// @Description Product request structure
type ProductRequest struct {
	SellerID      int    `json:"seller_id" validate:"required,gt=0"`
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=2000"`
	Price         int64  `json:"price" validate:"required,gt=0"` // in cents
	StockQuantity int    `json:"stock_quantity" validate:"gte=0"`
	ImageURL      string `json:"image_url" validate:"max=512"`
}

// ListProducts retrieves products
// @Summary List products
// @Description List non-deleted products, optionally filtered by seller
// @Tags products
// @Produce json
// @Param seller_id query int false "Seller user ID"
// @Success 200 {array} models.Product
// @Failure 500 {object} ErrorResponse
// @Router /products [get]
func (ps *ProductService) ListProducts(w http.ResponseWriter, r *http.Request) {
	sellerID, _ := strconv.Atoi(r.URL.Query().Get("seller_id"))

	var rows *sql.Rows
	var err error
	if sellerID > 0 {
		rows, err = ps.db.Query(`
            SELECT p.product_id, p.seller_id, p.name, p.description, p.price, p.stock_quantity,
                   p.sales_count, p.status, p.image_url, p.created_at, u.username
            FROM products p JOIN users u ON p.seller_id = u.user_id
            WHERE p.is_deleted = FALSE AND p.seller_id = $1
            ORDER BY p.created_at DESC
        `, sellerID)
	} else {
		rows, err = ps.db.Query(`
            SELECT p.product_id, p.seller_id, p.name, p.description, p.price, p.stock_quantity,
                   p.sales_count, p.status, p.image_url, p.created_at, u.username
            FROM products p JOIN users u ON p.seller_id = u.user_id
            WHERE p.is_deleted = FALSE AND p.status = 'on_shelf'
            ORDER BY p.created_at DESC
        `)
	}
	if err != nil {
		log.Printf("[PRODUCT] Failed to list products: %v", err)
		SendErrorResponse(w, "Failed to fetch products", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
			&p.SalesCount, &p.Status, &p.ImageURL, &p.CreatedAt, &p.SellerName); err != nil {
			SendErrorResponse(w, "Failed to fetch products", http.StatusInternalServerError, nil)
			return
		}
		products = append(products, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(products)
}

// GetProduct retrieves one product
// @Summary Get product
// @Description Retrieve a product by id
// @Tags products
// @Produce json
// @Param productId path int true "Product ID"
// @Success 200 {object} models.Product
// @Failure 404 {object} ErrorResponse
// @Router /products/{productId} [get]
func (ps *ProductService) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil || productID <= 0 {
		SendErrorResponse(w, "Invalid product id", http.StatusBadRequest, nil)
		return
	}

	var p models.Product
	err = ps.db.QueryRow(`
        SELECT p.product_id, p.seller_id, p.name, p.description, p.price, p.stock_quantity,
               p.sales_count, p.status, p.image_url, p.created_at, u.username
        FROM products p JOIN users u ON p.seller_id = u.user_id
        WHERE p.product_id = $1 AND p.is_deleted = FALSE
    `, productID).Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&p.SalesCount, &p.Status, &p.ImageURL, &p.CreatedAt, &p.SellerName)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Product not found", http.StatusNotFound, nil)
			return
		}
		log.Printf("[PRODUCT] Failed to fetch product %d: %v", productID, err)
		SendErrorResponse(w, "Failed to fetch product", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// CreateProduct creates a product listing
// @Summary Create product
// @Description Create a new product listing for a seller
// @Tags products
// @Accept json
// @Produce json
// @Param request body ProductRequest true "Product data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /products [post]
func (ps *ProductService) CreateProduct(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ProductRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	status := models.ProductOnShelf
	if req.StockQuantity <= 0 {
		status = models.ProductOffShelf
	}

	var productID int
	err := ps.db.QueryRow(`
        INSERT INTO products (seller_id, name, description, price, stock_quantity, image_url, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING product_id
    `, req.SellerID, req.Name, req.Description, req.Price, req.StockQuantity, req.ImageURL, status).Scan(&productID)
	if err != nil {
		log.Printf("[PRODUCT] Failed to create product for seller %d: %v", req.SellerID, err)
		SendErrorResponse(w, "Failed to create product", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[PRODUCT] Seller %d created product %d", req.SellerID, productID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":    "Product created",
		"product_id": productID,
	})
}

// UpdateProduct updates a product listing
// @Summary Update product
// @Description Update a product's listing fields; only the owning seller may update
// @Tags products
// @Accept json
// @Produce json
// @Param productId path int true "Product ID"
// @Param request body ProductRequest true "Product data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /products/{productId} [put]
func (ps *ProductService) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	if err != nil || productID <= 0 {
		SendErrorResponse(w, "Invalid product id", http.StatusBadRequest, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ProductRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var ownerID int
	err = ps.db.QueryRow(`SELECT seller_id FROM products WHERE product_id = $1 AND is_deleted = FALSE`, productID).Scan(&ownerID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Product not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to update product", http.StatusInternalServerError, nil)
		return
	}
	if ownerID != req.SellerID {
		SendErrorResponse(w, "Not the product owner", http.StatusForbidden, nil)
		return
	}

	_, err = ps.db.Exec(`
        UPDATE products SET name = $1, description = $2, price = $3, stock_quantity = $4, image_url = $5
        WHERE product_id = $6
    `, req.Name, req.Description, req.Price, req.StockQuantity, req.ImageURL, productID)
	if err != nil {
		log.Printf("[PRODUCT] Failed to update product %d: %v", productID, err)
		SendErrorResponse(w, "Failed to update product", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Product updated"})
}

// ReactivateProduct puts an off-shelf product back on the shelf
// @Summary Reactivate product
// @Description Put an off-shelf product back on the shelf; requires positive stock and the owning seller
// @Tags products
// @Produce json
// @Param productId path int true "Product ID"
// @Param seller_id query int true "Seller user ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Router /products/{productId}/reactivate [put]
func (ps *ProductService) ReactivateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	sellerID, _ := strconv.Atoi(r.URL.Query().Get("seller_id"))
	if err != nil || productID <= 0 || sellerID <= 0 {
		SendErrorResponse(w, "product id and seller_id are required", http.StatusBadRequest, nil)
		return
	}

	// Reactivation is deliberately manual: restocking via cancellation never
	// flips a product back on shelf by itself.
	result, err := ps.db.Exec(`
        UPDATE products SET status = 'on_shelf'
        WHERE product_id = $1 AND seller_id = $2 AND stock_quantity > 0 AND is_deleted = FALSE
    `, productID, sellerID)
	if err != nil {
		log.Printf("[PRODUCT] Failed to reactivate product %d: %v", productID, err)
		SendErrorResponse(w, "Failed to reactivate product", http.StatusInternalServerError, nil)
		return
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Cannot reactivate (no stock, not owner, or not found)", http.StatusBadRequest, nil)
		return
	}

	log.Printf("[PRODUCT] Product %d reactivated by seller %d", productID, sellerID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Product reactivated"})
}

// DeleteProduct soft-deletes a product listing
// @Summary Delete product
// @Description Soft-delete a product; only the owning seller may delete
// @Tags products
// @Produce json
// @Param productId path int true "Product ID"
// @Param seller_id query int true "Seller user ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /products/{productId} [delete]
func (ps *ProductService) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productId"))
	sellerID, _ := strconv.Atoi(r.URL.Query().Get("seller_id"))
	if err != nil || productID <= 0 || sellerID <= 0 {
		SendErrorResponse(w, "product id and seller_id are required", http.StatusBadRequest, nil)
		return
	}

	result, err := ps.db.Exec(`UPDATE products SET is_deleted = TRUE WHERE product_id = $1 AND seller_id = $2`, productID, sellerID)
	if err != nil {
		log.Printf("[PRODUCT] Failed to delete product %d: %v", productID, err)
		SendErrorResponse(w, "Failed to delete product", http.StatusInternalServerError, nil)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		SendErrorResponse(w, "Product not found or not authorized", http.StatusNotFound, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Product deleted"})
}
