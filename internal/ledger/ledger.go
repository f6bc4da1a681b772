// Package ledger tracks per-instrument positions and the aggregate account.
// It is mutated exclusively by applying confirmed Trades.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/schema"
)

// book is the mutable per-instrument state. The four lot counters never go
// negative; cost fields hold the average entry price of the open lots.
type book struct {
	mu         sync.Mutex
	instrument string
	multiplier decimal.Decimal
	marginRate decimal.Decimal
	commission decimal.Decimal

	longToday  int64
	longYd     int64
	shortToday int64
	shortYd    int64
	longCost   decimal.Decimal
	shortCost  decimal.Decimal
	lastMark   decimal.Decimal
}

func (b *book) longPos() int64  { return b.longToday + b.longYd }
func (b *book) shortPos() int64 { return b.shortToday + b.shortYd }

// Ledger owns all books and the account aggregates.
type Ledger struct {
	mu       sync.Mutex
	books    map[string]*book
	order    []string
	initial  decimal.Decimal
	realized decimal.Decimal
	fees     decimal.Decimal
}

// New creates a ledger seeded with the configured initial capital.
func New(initialCapital decimal.Decimal) *Ledger {
	return &Ledger{
		books:   make(map[string]*book),
		initial: initialCapital,
	}
}

// Register creates the book for an instrument with its trading parameters.
// Applying a trade for an unregistered instrument fails.
func (l *Ledger) Register(inst config.Instrument) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.books[inst.Symbol]; ok {
		return
	}
	l.books[inst.Symbol] = &book{
		instrument: inst.Symbol,
		multiplier: decimal.NewFromInt(inst.ContractMultiplier),
		marginRate: inst.MarginRate,
		commission: inst.CommissionRate,
	}
	l.order = append(l.order, inst.Symbol)
}

func (l *Ledger) book(instrument string) (*book, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[instrument]
	if !ok {
		return nil, errs.New("ledger", errs.CodeInvalid,
			errs.WithInstrument(instrument), errs.WithMessage("instrument not registered"))
	}
	return b, nil
}

// Apply is the sole mutator. Opening trades increase the today sub-ledger on
// the traded side; closing trades consume today lots before yesterday lots
// unless the trade flags yesterday-close. Closing more than is held fails
// with an over-close condition unless the trade carries close-all semantics,
// in which case the volume was already clamped by the engine and the ledger
// clamps again defensively.
func (l *Ledger) Apply(trade schema.Trade) error {
	if trade.Volume <= 0 {
		return errs.New("ledger", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(trade.Instrument), errs.WithMessage("trade volume must be > 0"))
	}
	b, err := l.book(trade.Instrument)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if trade.Open {
		l.applyOpen(b, trade)
		return nil
	}
	return l.applyClose(b, trade)
}

func (l *Ledger) applyOpen(b *book, trade schema.Trade) {
	vol := decimal.NewFromInt(trade.Volume)
	switch trade.Side {
	case schema.SideBuy:
		held := decimal.NewFromInt(b.longPos())
		b.longCost = averageCost(b.longCost, held, trade.Price, vol)
		b.longToday += trade.Volume
	case schema.SideShort:
		held := decimal.NewFromInt(b.shortPos())
		b.shortCost = averageCost(b.shortCost, held, trade.Price, vol)
		b.shortToday += trade.Volume
	}
	b.lastMark = trade.Price
	l.chargeFee(b, trade.Price, trade.Volume)
}

func (l *Ledger) applyClose(b *book, trade schema.Trade) error {
	volume := trade.Volume
	long := trade.Side == schema.SideSell
	held := b.shortPos()
	if long {
		held = b.longPos()
	}
	if volume > held {
		if !trade.CloseAll {
			return errs.New("ledger", errs.CodeOverClose,
				errs.WithInstrument(trade.Instrument),
				errs.WithOrderID(trade.OrderID),
				errs.WithMessage(fmt.Sprintf("close volume %d exceeds held %d", volume, held)))
		}
		volume = held
	}
	if volume == 0 {
		return nil
	}

	if long {
		consumeLots(&b.longToday, &b.longYd, volume, trade.CloseYesterday)
		l.realize(b, trade.Price.Sub(b.longCost), volume)
		if b.longPos() == 0 {
			b.longCost = decimal.Decimal{}
		}
	} else {
		consumeLots(&b.shortToday, &b.shortYd, volume, trade.CloseYesterday)
		l.realize(b, b.shortCost.Sub(trade.Price), volume)
		if b.shortPos() == 0 {
			b.shortCost = decimal.Decimal{}
		}
	}
	b.lastMark = trade.Price
	l.chargeFee(b, trade.Price, volume)
	return nil
}

// consumeLots reduces the two counters by volume, today-first by default,
// yesterday-first when ydFirst is set. Callers guarantee volume <= sum.
func consumeLots(today, yd *int64, volume int64, ydFirst bool) {
	first, second := today, yd
	if ydFirst {
		first, second = yd, today
	}
	take := min(volume, *first)
	*first -= take
	*second -= volume - take
}

func averageCost(cost, held, price, vol decimal.Decimal) decimal.Decimal {
	total := held.Add(vol)
	if total.IsZero() {
		return decimal.Decimal{}
	}
	return cost.Mul(held).Add(price.Mul(vol)).Div(total)
}

func (l *Ledger) realize(b *book, perLot decimal.Decimal, volume int64) {
	pnl := perLot.Mul(decimal.NewFromInt(volume)).Mul(b.multiplier)
	l.mu.Lock()
	l.realized = l.realized.Add(pnl)
	l.mu.Unlock()
}

func (l *Ledger) chargeFee(b *book, price decimal.Decimal, volume int64) {
	fee := price.Mul(decimal.NewFromInt(volume)).Mul(b.multiplier).Mul(b.commission)
	l.mu.Lock()
	l.fees = l.fees.Add(fee)
	l.mu.Unlock()
}

// Mark records the latest market price for an instrument, feeding the
// mark-to-market account view. Called on every bar close.
func (l *Ledger) Mark(instrument string, price decimal.Decimal) {
	b, err := l.book(instrument)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.lastMark = price
	b.mu.Unlock()
}

// Snapshot returns the position view for one instrument.
func (l *Ledger) Snapshot(instrument string) schema.PositionSnapshot {
	b, err := l.book(instrument)
	if err != nil {
		return schema.PositionSnapshot{Instrument: instrument}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return schema.PositionSnapshot{
		Instrument: instrument,
		LongToday:  b.longToday,
		LongYd:     b.longYd,
		ShortToday: b.shortToday,
		ShortYd:    b.shortYd,
	}
}

// Account returns the aggregate account view across all instruments.
func (l *Ledger) Account() schema.AccountSnapshot {
	l.mu.Lock()
	books := make([]*book, 0, len(l.order))
	for _, sym := range l.order {
		books = append(books, l.books[sym])
	}
	realized := l.realized
	fees := l.fees
	initial := l.initial
	l.mu.Unlock()

	margin := decimal.Decimal{}
	unrealized := decimal.Decimal{}
	for _, b := range books {
		b.mu.Lock()
		longVol := decimal.NewFromInt(b.longPos())
		shortVol := decimal.NewFromInt(b.shortPos())
		margin = margin.Add(b.longCost.Mul(longVol).Mul(b.multiplier).Mul(b.marginRate))
		margin = margin.Add(b.shortCost.Mul(shortVol).Mul(b.multiplier).Mul(b.marginRate))
		if !b.lastMark.IsZero() {
			unrealized = unrealized.Add(b.lastMark.Sub(b.longCost).Mul(longVol).Mul(b.multiplier))
			unrealized = unrealized.Add(b.shortCost.Sub(b.lastMark).Mul(shortVol).Mul(b.multiplier))
		}
		b.mu.Unlock()
	}

	return schema.AccountSnapshot{
		Available:      initial.Add(realized).Sub(fees).Sub(margin),
		MarginOccupied: margin,
		RealizedPnL:    realized.Sub(fees),
		UnrealizedPnL:  unrealized,
	}
}

// RollDay moves every today lot into the yesterday sub-ledger. Invoked at a
// trading-session boundary.
func (l *Ledger) RollDay() {
	l.mu.Lock()
	books := make([]*book, 0, len(l.order))
	for _, sym := range l.order {
		books = append(books, l.books[sym])
	}
	l.mu.Unlock()
	for _, b := range books {
		b.mu.Lock()
		b.longYd += b.longToday
		b.shortYd += b.shortToday
		b.longToday = 0
		b.shortToday = 0
		b.mu.Unlock()
	}
}
