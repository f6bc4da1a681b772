package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationKind enumerates the event categories delivered to observers.
type NotificationKind string

const (
	// KindTrade announces a confirmed fill.
	KindTrade NotificationKind = "trade"
	// KindOrder announces an order state transition.
	KindOrder NotificationKind = "order"
	// KindCancel announces a confirmed cancellation.
	KindCancel NotificationKind = "cancel"
	// KindOrderError announces a rejected submission.
	KindOrderError NotificationKind = "order_error"
	// KindCancelError announces a failed cancellation.
	KindCancelError NotificationKind = "cancel_error"
	// KindAccount announces an account snapshot change.
	KindAccount NotificationKind = "account"
	// KindPosition announces a position snapshot change.
	KindPosition NotificationKind = "position"
)

// AccountSnapshot is the aggregate account view carried on account notifications.
type AccountSnapshot struct {
	Available      decimal.Decimal
	MarginOccupied decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
}

// Equity returns available capital plus occupied margin plus open P&L.
func (a AccountSnapshot) Equity() decimal.Decimal {
	return a.Available.Add(a.MarginOccupied).Add(a.UnrealizedPnL)
}

// PositionSnapshot is the per-instrument position view carried on position
// notifications. The four base counters are always >= 0.
type PositionSnapshot struct {
	Instrument string
	LongToday  int64
	LongYd     int64
	ShortToday int64
	ShortYd    int64
}

// LongPos returns total long volume.
func (p PositionSnapshot) LongPos() int64 { return p.LongToday + p.LongYd }

// ShortPos returns total short volume.
func (p PositionSnapshot) ShortPos() int64 { return p.ShortToday + p.ShortYd }

// NetPos returns long minus short.
func (p PositionSnapshot) NetPos() int64 { return p.LongPos() - p.ShortPos() }

// Notification is one entry in an instrument's ordered delivery queue.
// Exactly one of the payload pointers is set, matching Kind.
type Notification struct {
	Kind       NotificationKind
	Instrument string
	Sequence   uint64
	Timestamp  time.Time

	Trade    *Trade
	Order    *PendingOrder
	Account  *AccountSnapshot
	Position *PositionSnapshot
	Err      error
}
