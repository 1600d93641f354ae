package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestCartService_GetCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCartService(db)

	t.Run("cart with items", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT ci.cart_item_id, ci.product_id, ci.quantity, p.name, p.price, p.stock_quantity").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "product_id", "quantity", "name", "price", "stock_quantity"}).
				AddRow(11, 3, 2, "Mug", 3000, 5))

		req := httptest.NewRequest("GET", "/cart?user_id=1", nil)
		w := httptest.NewRecorder()

		service.GetCart(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(7), response["cart_id"])
		assert.Len(t, response["items"], 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no cart yet", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(2).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/cart?user_id=2", nil)
		w := httptest.NewRecorder()

		service.GetCart(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Cart empty", response["message"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing user_id", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/cart", nil)
		w := httptest.NewRecorder()

		service.GetCart(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCartService_AddToCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCartService(db)

	t.Run("first add creates cart", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO carts").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT cart_item_id, quantity FROM cart_items WHERE cart_id = \\$1 AND product_id = \\$2").
			WithArgs(7, 3).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO cart_items").
			WithArgs(7, 3, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		req := httptest.NewRequest("POST", "/cart", bytes.NewBufferString(`{"user_id":1,"product_id":3}`))
		w := httptest.NewRecorder()

		service.AddToCart(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing line accumulates quantity", func(t *testing.T) {
		mock.ExpectQuery("SELECT cart_id FROM carts WHERE user_id = \\$1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"cart_id"}).AddRow(7))
		mock.ExpectQuery("SELECT cart_item_id, quantity FROM cart_items WHERE cart_id = \\$1 AND product_id = \\$2").
			WithArgs(7, 3).
			WillReturnRows(sqlmock.NewRows([]string{"cart_item_id", "quantity"}).AddRow(11, 2))
		mock.ExpectExec("UPDATE cart_items SET quantity = \\$1 WHERE cart_item_id = \\$2").
			WithArgs(5, 11).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("POST", "/cart", bytes.NewBufferString(`{"user_id":1,"product_id":3,"quantity":3}`))
		w := httptest.NewRecorder()

		service.AddToCart(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid quantity", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/cart", bytes.NewBufferString(`{"user_id":1,"product_id":3,"quantity":-1}`))
		w := httptest.NewRecorder()

		service.AddToCart(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCartService_RemoveItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewCartService(db)

	t.Run("successful removal", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM cart_items").
			WithArgs(11, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("DELETE", "/cart?user_id=1&cart_item_id=11", nil)
		w := httptest.NewRecorder()

		service.RemoveItem(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("item in someone else's cart", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM cart_items").
			WithArgs(11, 2).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest("DELETE", "/cart?user_id=2&cart_item_id=11", nil)
		w := httptest.NewRecorder()

		service.RemoveItem(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
