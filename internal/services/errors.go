package services

import (
	"errors"
	"fmt"
)

// Business rule codes returned to callers alongside HTTP 400
const (
	CodeNoCart            = "NO_CART"
	CodeEmptyCart         = "EMPTY_CART"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeOutOfStock        = "OUT_OF_STOCK"
	CodeStockRace         = "STOCK_RACE"
	CodeInvalidState      = "INVALID_STATE"
	CodeInvalidCode       = "INVALID_CODE"
	CodeUsageLimitReached = "USAGE_LIMIT_REACHED"
	CodeAlreadyRedeemed   = "ALREADY_REDEEMED"
)

// BusinessError is a rule violation detected inside a transaction boundary.
// Detecting one always aborts the whole transaction; no partial state is
// recovered. Handlers map it to HTTP 400.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *BusinessError) Error() string {
	return e.Message
}

// AsBusinessError reports whether err (or anything it wraps) is a business
// rule violation.
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func errNoCart() *BusinessError {
	return &BusinessError{Code: CodeNoCart, Message: "no cart found"}
}

func errEmptyCart() *BusinessError {
	return &BusinessError{Code: CodeEmptyCart, Message: "cart is empty"}
}

func errInsufficientFunds(required, available int64) *BusinessError {
	return &BusinessError{
		Code:    CodeInsufficientFunds,
		Message: fmt.Sprintf("insufficient balance (required: %d, available: %d)", required, available),
	}
}

func errOutOfStock(productID int) *BusinessError {
	return &BusinessError{
		Code:    CodeOutOfStock,
		Message: fmt.Sprintf("product %d out of stock", productID),
	}
}

func errStockRace(productID int) *BusinessError {
	return &BusinessError{
		Code:    CodeStockRace,
		Message: fmt.Sprintf("product %d stock insufficient during update", productID),
	}
}

func errInvalidState(status string) *BusinessError {
	return &BusinessError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("cannot change order in status %s", status),
	}
}

func errInvalidCode() *BusinessError {
	return &BusinessError{Code: CodeInvalidCode, Message: "invalid redemption code"}
}

func errUsageLimitReached() *BusinessError {
	return &BusinessError{Code: CodeUsageLimitReached, Message: "redemption code usage limit reached"}
}

func errAlreadyRedeemed() *BusinessError {
	return &BusinessError{Code: CodeAlreadyRedeemed, Message: "code already redeemed by this user"}
}
