package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/schema"
)

// Sim resolves fills against the simulation clock. It never touches a
// network; every fill price comes from the data the cursor has already
// revealed, so two runs over the same data produce identical trades.
type Sim struct{}

// NewSim returns the simulation resolver.
func NewSim() *Sim { return &Sim{} }

// Submit fills immediate directives on the spot and leaves deferred ones
// resting. Limit orders fill at exactly the limit price when the market is
// already through it.
func (s *Sim) Submit(_ context.Context, order *schema.PendingOrder, src *market.Source) ([]schema.Trade, error) {
	switch order.OrderType {
	case schema.OrderTypeBarClose:
		price, ok := src.Price()
		if !ok {
			return nil, errs.New("engine.sim", errs.CodeInsufficientHistory,
				errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
				errs.WithMessage("no current record to price against"))
		}
		return []schema.Trade{fill(order, price, order.Remaining(), src.Timestamp())}, nil

	case schema.OrderTypeMarket:
		// LimitPrice carries the offset-adjusted touch computed at submission.
		return []schema.Trade{fill(order, order.LimitPrice, order.Remaining(), src.Timestamp())}, nil

	case schema.OrderTypeLimit:
		price, ok := src.Price()
		if ok && crosses(order, price) {
			return []schema.Trade{fill(order, order.LimitPrice, order.Remaining(), src.Timestamp())}, nil
		}
		return nil, nil

	case schema.OrderTypeNextOpen, schema.OrderTypeNextClose, schema.OrderTypeNextHigh, schema.OrderTypeNextLow:
		return nil, nil

	default:
		return nil, errs.New("engine.sim", errs.CodeUnsupportedOrderType,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithMessage(string(order.OrderType)))
	}
}

// Step re-prices a resting order after the cursor advanced. Deferred
// directives fill at the named field of the bar after submission; resting
// limits fill at the limit price once the current record trades through it.
func (s *Sim) Step(_ context.Context, order *schema.PendingOrder, src *market.Source) ([]schema.Trade, error) {
	if order.OrderType == schema.OrderTypeLimit {
		touched, ok := s.limitTouched(order, src)
		if ok && touched {
			return []schema.Trade{fill(order, order.LimitPrice, order.Remaining(), src.Timestamp())}, nil
		}
		return nil, nil
	}

	next := order.SubmitIndex + 1
	bar, ok := src.BarAt(next)
	if !ok {
		return nil, nil
	}
	var price decimal.Decimal
	switch order.OrderType {
	case schema.OrderTypeNextOpen:
		price = bar.Open
	case schema.OrderTypeNextClose:
		price = bar.Close
	case schema.OrderTypeNextHigh:
		price = bar.High
	case schema.OrderTypeNextLow:
		price = bar.Low
	default:
		return nil, nil
	}
	return []schema.Trade{fill(order, price, order.Remaining(), bar.Timestamp)}, nil
}

// Cancel always succeeds in simulation; the engine drops the order itself.
func (s *Sim) Cancel(context.Context, *schema.PendingOrder) error { return nil }

func (s *Sim) limitTouched(order *schema.PendingOrder, src *market.Source) (touched, ok bool) {
	if tick, tok := src.CurrentTick(); tok {
		return crosses(order, tick.Last), true
	}
	bar, bok := src.CurrentBar()
	if !bok {
		return false, false
	}
	if order.Side.Buys() {
		return bar.Low.LessThanOrEqual(order.LimitPrice), true
	}
	return bar.High.GreaterThanOrEqual(order.LimitPrice), true
}

func crosses(order *schema.PendingOrder, price decimal.Decimal) bool {
	if order.Side.Buys() {
		return price.LessThanOrEqual(order.LimitPrice)
	}
	return price.GreaterThanOrEqual(order.LimitPrice)
}

func fill(order *schema.PendingOrder, price decimal.Decimal, volume int64, ts time.Time) schema.Trade {
	return schema.Trade{
		OrderID:        order.ID,
		Instrument:     order.Instrument,
		Side:           order.Side,
		Price:          price,
		Volume:         volume,
		Open:           order.Side.Opens(),
		CloseYesterday: order.CloseYesterday,
		CloseAll:       order.CloseAll,
		Timestamp:      ts,
		Reason:         order.Reason,
	}
}
