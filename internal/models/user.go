package models

import "time"

// User roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// User represents a marketplace account
// @Description User structure
type User struct {
	ID            int       `json:"user_id" db:"user_id" example:"1"`              // User ID
	Email         string    `json:"email" db:"email" example:"user@example.com"`   // User email
	Username      string    `json:"username" db:"username" example:"johndoe"`      // Display name
	Role          string    `json:"role" db:"role" example:"buyer"`                // buyer, seller or admin
	WalletBalance int64     `json:"wallet_balance" db:"wallet_balance"`            // in cents
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
