// Package gateway defines the adapter boundary the execution engine routes
// paper/live orders through. The core depends only on the event shape below,
// never on an adapter's wire format.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/internal/schema"
)

// Offset tells the venue whether an order opens or closes, and which lots.
type Offset string

const (
	// OffsetOpen opens new lots.
	OffsetOpen Offset = "open"
	// OffsetClose closes lots, today before yesterday.
	OffsetClose Offset = "close"
	// OffsetCloseYd closes yesterday lots explicitly.
	OffsetCloseYd Offset = "close_yd"
)

// Order is a submission handed to an adapter. ID is engine-assigned and is
// echoed back on every event for the order.
type Order struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	Side       schema.Side     `json:"side"`
	Offset     Offset          `json:"offset"`
	Volume     int64           `json:"volume"`
	Limit      decimal.Decimal `json:"limit"`
	Marketable bool            `json:"marketable"`
}

// Handle identifies a submitted order at the gateway.
type Handle string

// EventKind enumerates inbound gateway event categories.
type EventKind string

const (
	// EventTrade reports a fill.
	EventTrade EventKind = "trade"
	// EventOrderStatus reports an order state change.
	EventOrderStatus EventKind = "order_status"
	// EventCancelAck confirms a cancellation.
	EventCancelAck EventKind = "cancel_ack"
	// EventReject reports a rejected submission.
	EventReject EventKind = "reject"
	// EventAccount carries an account update.
	EventAccount EventKind = "account"
	// EventPosition carries a position update.
	EventPosition EventKind = "position"
)

// Event is one record on the inbound gateway stream, keyed by instrument and
// order id.
type Event struct {
	Kind       EventKind          `json:"kind"`
	Instrument string             `json:"instrument"`
	OrderID    string             `json:"order_id"`
	Handle     Handle             `json:"handle"`
	Price      decimal.Decimal    `json:"price"`
	Volume     int64              `json:"volume"`
	Remaining  int64              `json:"remaining"`
	Status     schema.OrderStatus `json:"status"`
	Reason     string             `json:"reason"`
	Timestamp  time.Time          `json:"timestamp"`

	Account  *schema.AccountSnapshot  `json:"account,omitempty"`
	Position *schema.PositionSnapshot `json:"position,omitempty"`
}

// Adapter is the boundary the execution-mode router forwards to in paper and
// live modes. Submit and Cancel honour the caller's context deadline.
type Adapter interface {
	Submit(ctx context.Context, order Order) (Handle, error)
	Cancel(ctx context.Context, handle Handle) error
	Events() <-chan Event
	Close() error
}
