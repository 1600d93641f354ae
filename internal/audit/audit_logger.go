package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event is one structured audit record emitted as a JSON log line
type Event struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	UserID    int       `json:"user_id,omitempty"`
	OrderID   int       `json:"order_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogCheckout(orderID, userID int, amount int64, status string) {
	a.log(Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		EventType: "CHECKOUT",
		UserID:    userID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogCancellation(orderID, userID int, reason string) {
	a.log(Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		EventType: "CANCELLATION",
		UserID:    userID,
		OrderID:   orderID,
		Status:    "SUCCESS",
		Details:   map[string]string{"reason": reason},
	})
}

func (a *Logger) LogRedemption(codeID, userID int, value int64) {
	a.log(Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		EventType: "REDEMPTION",
		UserID:    userID,
		Amount:    value,
		Status:    "SUCCESS",
		Details:   map[string]int{"code_id": codeID},
	})
}

func (a *Logger) LogError(operation string, userID int, err error) {
	a.log(Event{
		EventID:   uuid.New().String(),
		Timestamp: time.Now(),
		EventType: operation,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[AUDIT] Failed to marshal audit event: %v", err)
		return
	}
	log.Printf("[AUDIT] %s", string(data))
}
