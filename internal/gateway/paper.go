package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/schema"
)

const paperEventBuffer = 256

type paperQuote struct {
	bid, ask decimal.Decimal
	ts       time.Time
}

type restingOrder struct {
	order     Order
	remaining int64
	seq       uint64
}

// Paper is an in-process adapter that fills marketable orders against the
// last published quote and rests limit orders until a quote crosses them.
// It exists so a strategy can run against the gateway path without a venue.
type Paper struct {
	mu      sync.Mutex
	more    *sync.Cond
	quotes  map[string]paperQuote
	resting map[Handle]*restingOrder
	// backlog is unbounded so fills and cancel acks are never dropped; a
	// forwarder goroutine drains it into events in emission order.
	backlog []Event
	events  chan Event
	seq     uint64
	closed  bool

	// lotLiquidity caps how many lots a single quote update can take out of
	// a resting order. Zero means unlimited.
	lotLiquidity int64
}

// PaperOption customises a Paper adapter.
type PaperOption func(*Paper)

// WithLotLiquidity caps per-quote fill volume so large resting orders fill
// across several quote updates.
func WithLotLiquidity(lots int64) PaperOption {
	return func(p *Paper) { p.lotLiquidity = lots }
}

// NewPaper returns a paper adapter with no quotes loaded.
func NewPaper(opts ...PaperOption) *Paper {
	p := &Paper{
		quotes:  make(map[string]paperQuote),
		resting: make(map[Handle]*restingOrder),
		events:  make(chan Event, paperEventBuffer),
	}
	p.more = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	go p.forward()
	return p
}

// UpdateQuote publishes a fresh top of book and sweeps resting orders that
// now cross.
func (p *Paper) UpdateQuote(instrument string, bid, ask decimal.Decimal, ts time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.quotes[instrument] = paperQuote{bid: bid, ask: ask, ts: ts}
	p.sweepLocked(instrument)
}

// Submit fills marketable orders immediately at the touch and rests crossing
// limit orders otherwise. A submission for an instrument with no quote is
// rejected.
func (p *Paper) Submit(ctx context.Context, order Order) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", errs.New("gateway.paper", errs.CodeUnavailable, errs.WithMessage("adapter closed"))
	}
	if order.Volume <= 0 {
		return "", errs.New("gateway.paper", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithMessage("volume must be positive"))
	}
	q, ok := p.quotes[order.Instrument]
	if !ok {
		return "", errs.New("gateway.paper", errs.CodeGatewayRejected,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithMessage("no quote for instrument"))
	}

	p.seq++
	handle := Handle(order.ID)
	p.emitLocked(Event{
		Kind:       EventOrderStatus,
		Instrument: order.Instrument,
		OrderID:    order.ID,
		Handle:     handle,
		Remaining:  order.Volume,
		Status:     schema.StatusPending,
		Timestamp:  q.ts,
	})

	if order.Marketable {
		px := q.ask
		if !order.Side.Buys() {
			px = q.bid
		}
		p.fillLocked(handle, order, order.Volume, px, q.ts)
		return handle, nil
	}

	ro := &restingOrder{order: order, remaining: order.Volume, seq: p.seq}
	p.resting[handle] = ro
	if crossed, px := p.crossPrice(order, q); crossed {
		p.fillResting(handle, ro, px, q.ts)
	}
	return handle, nil
}

// Cancel removes a resting order. Cancelling an order that already filled or
// was never seen fails with a cancel error.
func (p *Paper) Cancel(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.New("gateway.paper", errs.CodeUnavailable, errs.WithMessage("adapter closed"))
	}
	ro, ok := p.resting[handle]
	if !ok {
		return errs.New("gateway.paper", errs.CodeCancelFailed,
			errs.WithOrderID(string(handle)), errs.WithMessage("order not resting"))
	}
	delete(p.resting, handle)
	p.emitLocked(Event{
		Kind:       EventCancelAck,
		Instrument: ro.order.Instrument,
		OrderID:    ro.order.ID,
		Handle:     handle,
		Remaining:  ro.remaining,
		Status:     schema.StatusCancelled,
		Timestamp:  p.quotes[ro.order.Instrument].ts,
	})
	return nil
}

// Events returns the inbound event stream.
func (p *Paper) Events() <-chan Event { return p.events }

// Close cancels all resting orders and closes the event stream once the
// backlog has drained.
func (p *Paper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	for handle, ro := range p.resting {
		p.emitLocked(Event{
			Kind:       EventCancelAck,
			Instrument: ro.order.Instrument,
			OrderID:    ro.order.ID,
			Handle:     handle,
			Remaining:  ro.remaining,
			Status:     schema.StatusCancelled,
		})
		delete(p.resting, handle)
	}
	p.closed = true
	p.more.Signal()
	return nil
}

func (p *Paper) crossPrice(order Order, q paperQuote) (bool, decimal.Decimal) {
	if order.Side.Buys() {
		if q.ask.LessThanOrEqual(order.Limit) {
			return true, q.ask
		}
		return false, decimal.Decimal{}
	}
	if q.bid.GreaterThanOrEqual(order.Limit) {
		return true, q.bid
	}
	return false, decimal.Decimal{}
}

func (p *Paper) sweepLocked(instrument string) {
	q := p.quotes[instrument]
	for handle, ro := range p.resting {
		if ro.order.Instrument != instrument {
			continue
		}
		if crossed, px := p.crossPrice(ro.order, q); crossed {
			p.fillResting(handle, ro, px, q.ts)
		}
	}
}

func (p *Paper) fillResting(handle Handle, ro *restingOrder, px decimal.Decimal, ts time.Time) {
	vol := ro.remaining
	if p.lotLiquidity > 0 && vol > p.lotLiquidity {
		vol = p.lotLiquidity
	}
	ro.remaining -= vol
	p.fillLocked(handle, ro.order, vol, px, ts)
	if ro.remaining == 0 {
		delete(p.resting, handle)
	}
}

func (p *Paper) fillLocked(handle Handle, order Order, vol int64, px decimal.Decimal, ts time.Time) {
	remaining := int64(0)
	status := schema.StatusFilled
	if ro, ok := p.resting[handle]; ok && ro.remaining > 0 {
		remaining = ro.remaining
		status = schema.StatusPartiallyFilled
	}
	p.emitLocked(Event{
		Kind:       EventTrade,
		Instrument: order.Instrument,
		OrderID:    order.ID,
		Handle:     handle,
		Price:      px,
		Volume:     vol,
		Remaining:  remaining,
		Status:     status,
		Timestamp:  ts,
	})
	p.emitLocked(Event{
		Kind:       EventOrderStatus,
		Instrument: order.Instrument,
		OrderID:    order.ID,
		Handle:     handle,
		Remaining:  remaining,
		Status:     status,
		Timestamp:  ts,
	})
}

func (p *Paper) emitLocked(ev Event) {
	p.backlog = append(p.backlog, ev)
	p.more.Signal()
}

// forward drains the backlog into the event stream. It owns closing events:
// after Close it flushes what remains, then closes the channel.
func (p *Paper) forward() {
	for {
		p.mu.Lock()
		for len(p.backlog) == 0 && !p.closed {
			p.more.Wait()
		}
		if len(p.backlog) == 0 {
			p.mu.Unlock()
			close(p.events)
			return
		}
		ev := p.backlog[0]
		p.backlog = p.backlog[1:]
		p.mu.Unlock()
		p.events <- ev
	}
}
