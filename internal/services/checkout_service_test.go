package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestCheckoutService_PlaceOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	redisClient, redisMock := redismock.NewClientMock()
	service := NewCheckoutService(db, redisClient)

	t.Run("successful checkout", func(t *testing.T) {
		// Cart snapshot: 2 units of product 3 at 3000 each
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))

		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}).
				AddRow(11, 3, 2, 3000, 5))

		mock.ExpectBegin()

		// Lock buyer wallet
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10000))

		// Debit buyer
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance - \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Create order
		mock.ExpectQuery("INSERT INTO orders").
			WithArgs(1, int64(6000), "12 Main St").
			WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(42))

		// Resolve seller
		mock.ExpectQuery("SELECT seller_id FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id"}).AddRow(9))

		// Order item snapshot
		mock.ExpectExec("INSERT INTO order_items").
			WithArgs(42, 3, 2, int64(3000)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Conditional stock decrement
		mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - \\$1, sales_count = sales_count \\+ \\$1").
			WithArgs(2, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Credit seller
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance \\+ \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 9).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Remaining stock check
		mock.ExpectQuery("SELECT stock_quantity FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}).AddRow(3))

		// Clear cart
		mock.ExpectExec("DELETE FROM cart_items WHERE cart_id = \\$1").
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		redisMock.ExpectDel("wallet:balance:9").SetVal(1)
		redisMock.ExpectDel("wallet:balance:1").SetVal(1)

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Order placed successfully", response["message"])
		assert.Equal(t, float64(42), response["order_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("depleted product flips off shelf", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))

		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}).
				AddRow(11, 3, 2, 3000, 2))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10000))
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance - \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO orders").
			WithArgs(1, int64(6000), "12 Main St").
			WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(43))
		mock.ExpectQuery("SELECT seller_id FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id"}).AddRow(9))
		mock.ExpectExec("INSERT INTO order_items").
			WithArgs(43, 3, 2, int64(3000)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - \\$1, sales_count = sales_count \\+ \\$1").
			WithArgs(2, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance \\+ \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 9).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Last unit sold: product leaves the shelf
		mock.ExpectQuery("SELECT stock_quantity FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"stock_quantity"}).AddRow(0))
		mock.ExpectExec("UPDATE products SET status = 'off_shelf' WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("DELETE FROM cart_items WHERE cart_id = \\$1").
			WithArgs(7).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		redisMock.ExpectDel("wallet:balance:9").SetVal(1)
		redisMock.ExpectDel("wallet:balance:1").SetVal(1)

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds rolls back", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}).
				AddRow(11, 3, 2, 3000, 5))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(1000))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, CodeInsufficientFunds, response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stock race rolls back", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}).
				AddRow(11, 3, 2, 3000, 5))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10000))
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance - \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO orders").
			WithArgs(1, int64(6000), "12 Main St").
			WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(44))
		mock.ExpectQuery("SELECT seller_id FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id"}).AddRow(9))
		mock.ExpectExec("INSERT INTO order_items").
			WithArgs(44, 3, 2, int64(3000)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		// Concurrent checkout consumed the stock first
		mock.ExpectExec("UPDATE products SET stock_quantity = stock_quantity - \\$1, sales_count = sales_count \\+ \\$1").
			WithArgs(2, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, CodeStockRace, response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale cart snapshot rejected", func(t *testing.T) {
		// Snapshot shows 1 in stock but the buyer wants 2
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}).
				AddRow(11, 3, 2, 3000, 1))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT wallet_balance FROM users WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"wallet_balance"}).AddRow(10000))
		mock.ExpectExec("UPDATE users SET wallet_balance = wallet_balance - \\$1 WHERE user_id = \\$2").
			WithArgs(int64(6000), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO orders").
			WithArgs(1, int64(6000), "12 Main St").
			WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow(45))
		mock.ExpectQuery("SELECT seller_id FROM products WHERE product_id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"seller_id"}).AddRow(9))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, CodeOutOfStock, response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no cart", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(2).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":2,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, CodeNoCart, response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty cart", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(8))
		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.price, p.stock_quantity").
			WithArgs(8).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "price", "stock_quantity"}))

		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":2,"shipping_address":"12 Main St"}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, CodeEmptyCart, response.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString("not json"))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing shipping address", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/orders", bytes.NewBufferString(`{"user_id":1}`))
		w := httptest.NewRecorder()

		service.PlaceOrder(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
