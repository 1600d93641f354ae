package models

import "time"

// Cart is created lazily on a user's first add-to-cart
type Cart struct {
	ID        int       `json:"cart_id" db:"cart_id"`
	UserID    int       `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CartItem references a product with a requested quantity
type CartItem struct {
	ID        int `json:"cart_item_id" db:"cart_item_id"`
	CartID    int `json:"cart_id" db:"cart_id"`
	ProductID int `json:"product_id" db:"product_id"`
	Quantity  int `json:"quantity" db:"quantity"`
}

// CartItemDetail is the cart line joined with live product data
type CartItemDetail struct {
	CartItemID    int    `json:"cart_item_id"`
	ProductID     int    `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Name          string `json:"name"`
	Price         int64  `json:"price"` // in cents, live product price
	StockQuantity int    `json:"stock_quantity"`
}
