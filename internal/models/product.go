package models

import "time"

// Product shelf status. Stock hitting zero flips a product to off_shelf;
// the reverse transition is an explicit seller action, never automatic.
const (
	ProductOnShelf  = "on_shelf"
	ProductOffShelf = "off_shelf"
)

// Product represents a listed item owned by a seller
type Product struct {
	ID            int       `json:"product_id" db:"product_id"`
	SellerID      int       `json:"seller_id" db:"seller_id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	Price         int64     `json:"price" db:"price"` // in cents
	StockQuantity int       `json:"stock_quantity" db:"stock_quantity"`
	SalesCount    int       `json:"sales_count" db:"sales_count"`
	Status        string    `json:"status" db:"status"`
	ImageURL      string    `json:"image_url" db:"image_url"`
	SellerName    string    `json:"seller_name,omitempty"`
	IsDeleted     bool      `json:"-" db:"is_deleted"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
