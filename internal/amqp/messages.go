package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/stream"

	"github.com/google/uuid"
)

// ExpenseChangeMessage describes one committed store mutation. For deletes
// the record is the one that was removed.
type ExpenseChangeMessage struct {
	MessageID string    `json:"message_id"`
	Operation string    `json:"operation"`
	ID        int64     `json:"id"`
	Amount    float64   `json:"amount"`
	Category  string    `json:"category"`
	Date      int64     `json:"date"`
	Note      *string   `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExpenseChangeMessage builds a message with a fresh id.
func NewExpenseChangeMessage(c stream.Change) *ExpenseChangeMessage {
	ts := c.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ExpenseChangeMessage{
		MessageID: uuid.NewString(),
		Operation: string(c.Op),
		ID:        c.Expense.ID,
		Amount:    c.Expense.Amount,
		Category:  c.Expense.Category,
		Date:      c.Expense.Date,
		Note:      c.Expense.Note,
		Timestamp: ts.UTC(),
	}
}

// Expense rebuilds the record carried by the message.
func (m *ExpenseChangeMessage) Expense() core.Expense {
	return core.Expense{
		ID:       m.ID,
		Amount:   m.Amount,
		Category: m.Category,
		Date:     m.Date,
		Note:     m.Note,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseChangeMessageFromJSON parses and checks a message body.
func ExpenseChangeMessageFromJSON(data []byte) (*ExpenseChangeMessage, error) {
	var msg ExpenseChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(msg.MessageID); err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", msg.MessageID, err)
	}
	switch stream.Op(msg.Operation) {
	case stream.OpInsert, stream.OpDelete:
	default:
		return nil, fmt.Errorf("unknown operation %q", msg.Operation)
	}
	return &msg, nil
}
