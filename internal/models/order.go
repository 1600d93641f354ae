package models

import "time"

// Order statuses. COMPLETED and CANCELLED are terminal: no further
// transition is permitted once either is written.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

// Order is created by checkout with status PENDING. TotalAmount is fixed
// at creation and never recomputed from live prices.
type Order struct {
	ID                 int         `json:"order_id" db:"order_id"`
	UserID             int         `json:"user_id" db:"user_id"`
	TotalAmount        int64       `json:"total_amount" db:"total_amount"` // in cents
	Status             string      `json:"status" db:"status"`
	ShippingAddress    string      `json:"shipping_address" db:"shipping_address"`
	CancellationReason *string     `json:"cancellation_reason" db:"cancellation_reason"`
	OrderDate          time.Time   `json:"order_date" db:"order_date"`
	Items              []OrderLine `json:"items"`
}

// OrderItem snapshots price and quantity at order time. PriceSnapshot is
// decoupled from the product's live price so historical totals never drift.
type OrderItem struct {
	ID            int   `json:"order_item_id" db:"order_item_id"`
	OrderID       int   `json:"order_id" db:"order_id"`
	ProductID     int   `json:"product_id" db:"product_id"`
	Quantity      int   `json:"quantity" db:"quantity"`
	PriceSnapshot int64 `json:"price_snapshot" db:"price_snapshot"`
}

// OrderLine is the listing view of an order item
type OrderLine struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"` // price snapshot, in cents
	Quantity int    `json:"quantity"`
	ImageURL string `json:"image_url"`
}
