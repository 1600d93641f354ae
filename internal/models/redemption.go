package models

import "time"

// RedemptionCode is a shared promotional credit. CurrentUses only ever
// increases and never exceeds MaxUses.
type RedemptionCode struct {
	ID          int       `json:"code_id" db:"code_id"`
	Code        string    `json:"code" db:"code"`
	Value       int64     `json:"value" db:"value"` // credit amount, in cents
	MaxUses     int       `json:"max_uses" db:"max_uses"`
	CurrentUses int       `json:"current_uses" db:"current_uses"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// RedemptionHistory records one (code, user) redemption. The pair is unique:
// a user may claim a given code at most once regardless of the global cap.
type RedemptionHistory struct {
	ID         int       `json:"id" db:"id"`
	CodeID     int       `json:"code_id" db:"code_id"`
	UserID     int       `json:"user_id" db:"user_id"`
	RedeemedAt time.Time `json:"redeemed_at" db:"redeemed_at"`
}
