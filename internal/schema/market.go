// Package schema holds the shared value types crossing package boundaries:
// market records, order intents and lifecycle state, and observer
// notifications.
package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV record at a fixed sampling period.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Tick is one top-of-book market data record.
type Tick struct {
	Timestamp    time.Time
	Last         decimal.Decimal
	BidPrice     decimal.Decimal
	BidSize      int64
	AskPrice     decimal.Decimal
	AskSize      int64
	CumVolume    int64
	OpenInterest int64
	TradingDay   string
}

// Mid returns the quote midpoint, falling back to the last trade when either
// side of the book is empty.
func (t Tick) Mid() decimal.Decimal {
	if t.BidPrice.IsZero() || t.AskPrice.IsZero() {
		return t.Last
	}
	return t.BidPrice.Add(t.AskPrice).Div(decimal.NewFromInt(2))
}
