package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side enumerates the four futures trading intents.
type Side string

const (
	// SideBuy opens long.
	SideBuy Side = "buy"
	// SideSell closes long.
	SideSell Side = "sell"
	// SideShort opens short.
	SideShort Side = "short"
	// SideCover closes short.
	SideCover Side = "cover"
)

// Opens reports whether the side increases exposure.
func (s Side) Opens() bool { return s == SideBuy || s == SideShort }

// Long reports whether the side acts on the long book.
func (s Side) Long() bool { return s == SideBuy || s == SideSell }

// Buys reports whether the side trades in the buying direction, lifting the
// ask. Covering a short buys even though it acts on the short book.
func (s Side) Buys() bool { return s == SideBuy || s == SideCover }

// Valid reports whether the side is one of the four known intents.
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideShort, SideCover:
		return true
	default:
		return false
	}
}

// OrderType is the directive controlling when and at what price an intent may fill.
type OrderType string

const (
	// OrderTypeBarClose fills at the current bar's close on this step.
	OrderTypeBarClose OrderType = "bar_close"
	// OrderTypeNextOpen fills at the next bar's open.
	OrderTypeNextOpen OrderType = "next_bar_open"
	// OrderTypeNextClose fills at the next bar's close.
	OrderTypeNextClose OrderType = "next_bar_close"
	// OrderTypeNextHigh fills at the next bar's high once that bar is known.
	OrderTypeNextHigh OrderType = "next_bar_high"
	// OrderTypeNextLow fills at the next bar's low once that bar is known.
	OrderTypeNextLow OrderType = "next_bar_low"
	// OrderTypeMarket fills at the opposing best quote adjusted by the offset.
	OrderTypeMarket OrderType = "market"
	// OrderTypeLimit rests at the given price until the market trades through it.
	OrderTypeLimit OrderType = "limit"
)

// Deferred reports whether the directive delays the fill to a later step.
func (o OrderType) Deferred() bool {
	switch o {
	case OrderTypeNextOpen, OrderTypeNextClose, OrderTypeNextHigh, OrderTypeNextLow:
		return true
	default:
		return false
	}
}

// Valid reports whether the directive is recognized.
func (o OrderType) Valid() bool {
	switch o {
	case OrderTypeBarClose, OrderTypeNextOpen, OrderTypeNextClose, OrderTypeNextHigh,
		OrderTypeNextLow, OrderTypeMarket, OrderTypeLimit:
		return true
	default:
		return false
	}
}

// ParseOrderType normalizes a directive string, defaulting to bar_close.
func ParseOrderType(value string) OrderType {
	trimmed := OrderType(strings.ToLower(strings.TrimSpace(value)))
	if trimmed == "" {
		return OrderTypeBarClose
	}
	return trimmed
}

// OrderIntent is a trading call made by a strategy. It lives only for the
// duration of the submission unless it becomes a PendingOrder.
type OrderIntent struct {
	Side        Side
	Source      int
	Volume      int64
	OrderType   OrderType
	Price       *decimal.Decimal
	OffsetTicks *int
	Reason      string

	// CloseAll marks "close everything" semantics: the close volume is
	// clamped to the held amount instead of raising an over-close condition.
	CloseAll bool

	// CloseYesterday targets history lots directly instead of the default
	// today-before-yesterday ordering. Only meaningful on closing sides.
	CloseYesterday bool
}

// OrderStatus tracks the lifecycle of a pending order.
type OrderStatus string

const (
	// StatusPending means submitted and not yet filled.
	StatusPending OrderStatus = "pending"
	// StatusPartiallyFilled means some volume has filled.
	StatusPartiallyFilled OrderStatus = "partially_filled"
	// StatusFilled is terminal.
	StatusFilled OrderStatus = "filled"
	// StatusCancelled is terminal.
	StatusCancelled OrderStatus = "cancelled"
	// StatusRejected is terminal.
	StatusRejected OrderStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// PendingOrder is an OrderIntent that could not fill immediately.
// It is owned exclusively by the execution engine for the run's lifetime.
type PendingOrder struct {
	ID             string
	Instrument     string
	Side           Side
	Source         int
	Volume         int64
	FilledVol      int64
	OrderType      OrderType
	LimitPrice     decimal.Decimal
	RefPrice       decimal.Decimal
	Reason         string
	CloseAll       bool
	CloseYesterday bool
	SubmitIndex    int
	SubmitTime     time.Time
	Status         OrderStatus
}

// Remaining returns the unfilled volume.
func (p *PendingOrder) Remaining() int64 { return p.Volume - p.FilledVol }

// Trade is an immutable fill record. Exactly one Trade exists per fill; a
// partially filled order produces multiple Trades.
type Trade struct {
	OrderID        string
	Instrument     string
	Side           Side
	Price          decimal.Decimal
	Volume         int64
	Open           bool
	CloseYesterday bool
	CloseAll       bool
	Timestamp      time.Time
	Reason         string
}
