// Package events publishes ledger changes to other services after they commit.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event types. The AMQP routing key is RoutingPrefix + Type.
const (
	TypeExpenseAdded    = "expense.added"
	TypeExpenseReversed = "expense.reversed"
	TypePaymentRecorded = "payment.recorded"
	TypeMemberJoined    = "member.joined"
	TypeMemberLeft      = "member.left"
)

// RoutingPrefix namespaces every routing key on the exchange.
const RoutingPrefix = "ledger."

// Event is a committed ledger change. IDs are Telegram IDs, RefID is the
// expense or payment ID when there is one.
type Event struct {
	Type      string          `json:"type"`
	ChatID    int64           `json:"chat_id"`
	UserID    int64           `json:"user_id"`
	RefID     int64           `json:"ref_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// RoutingKey returns the topic routing key for the event.
func (e Event) RoutingKey() string {
	return RoutingPrefix + e.Type
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
