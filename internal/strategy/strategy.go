// Package strategy is the authoring surface for trading logic. A strategy
// receives a Context once per market step and reads data or places orders
// through it; the same strategy code runs unchanged against simulation, the
// paper gateway and a live gateway.
package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/engine"
	"github.com/quantloop/quantloop/internal/ledger"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/schema"
)

// Strategy is called once per step of the driving data source.
type Strategy interface {
	OnBar(c *Context)
}

// Func adapts a plain function to Strategy.
type Func func(c *Context)

// OnBar implements Strategy.
func (f Func) OnBar(c *Context) { f(c) }

// Initializer runs once before the first step.
type Initializer interface {
	OnInit(c *Context)
}

// Finisher runs once after the data is exhausted or the run is stopped.
type Finisher interface {
	OnFinish(c *Context)
}

// TradeListener receives every confirmed fill.
type TradeListener interface {
	OnTrade(trade schema.Trade)
}

// ErrorListener receives order and cancel failures.
type ErrorListener interface {
	OnOrderError(err error)
}

// NotificationListener receives every notification the run publishes, in
// per-instrument order. Prefer the narrower listeners unless the strategy
// really needs the full stream.
type NotificationListener interface {
	OnNotification(n schema.Notification)
}

// Context is the per-step view handed to a strategy. It is bound to one data
// source; Use returns a rebinding for multi-source strategies.
type Context struct {
	ctx      context.Context
	engine   *engine.Engine
	ledger   *ledger.Ledger
	mgr      *market.Manager
	settings config.Settings
	active   int
}

// NewContext binds a strategy context to the run's shared components. The
// runner constructs one per step; strategies never build these themselves.
func NewContext(ctx context.Context, eng *engine.Engine, led *ledger.Ledger, mgr *market.Manager, settings config.Settings, active int) *Context {
	return &Context{ctx: ctx, engine: eng, ledger: led, mgr: mgr, settings: settings, active: active}
}

// Use rebinds the context to data source i.
func (c *Context) Use(i int) *Context {
	rebound := *c
	rebound.active = i
	return &rebound
}

func (c *Context) src() *market.Source { return c.mgr.Source(c.active) }

// Symbol returns the bound instrument.
func (c *Context) Symbol() string { return c.src().Symbol() }

// Idx returns the current record index of the bound source.
func (c *Context) Idx() int { return c.src().Index() }

// Datetime returns the timestamp of the current record.
func (c *Context) Datetime() time.Time { return c.src().Timestamp() }

// Price returns the current price: the bar close, or the tick mid for
// tick-driven sources. ok is false before the first record.
func (c *Context) Price() (decimal.Decimal, bool) { return c.src().Price() }

// Bar returns the current bar.
func (c *Context) Bar() (schema.Bar, bool) { return c.src().CurrentBar() }

// Bars returns up to window bars ending at the cursor, oldest first.
func (c *Context) Bars(window int) []schema.Bar {
	out := make([]schema.Bar, 0, window)
	for bar := range c.src().Slice(window) {
		out = append(out, bar)
	}
	return out
}

// RequireHistory fails when fewer than n records precede the cursor.
func (c *Context) RequireHistory(n int) error { return c.src().RequireHistory(n) }

// Tick returns the latest tick of a tick-driven source.
func (c *Context) Tick() (schema.Tick, bool) { return c.src().CurrentTick() }

// Ticks returns up to n cached ticks ending at the newest, oldest first.
func (c *Context) Ticks(n int) []schema.Tick { return c.src().Ticks().Window(n) }

// Pos returns the net position, long minus short.
func (c *Context) Pos() int64 { return c.ledger.Snapshot(c.Symbol()).NetPos() }

// LongPos returns total long volume.
func (c *Context) LongPos() int64 { return c.ledger.Snapshot(c.Symbol()).LongPos() }

// ShortPos returns total short volume.
func (c *Context) ShortPos() int64 { return c.ledger.Snapshot(c.Symbol()).ShortPos() }

// PositionDetail returns the full lot breakdown.
func (c *Context) PositionDetail() schema.PositionSnapshot { return c.ledger.Snapshot(c.Symbol()) }

// Account returns the aggregate account snapshot.
func (c *Context) Account() schema.AccountSnapshot { return c.ledger.Account() }

// Pending returns the instrument's resting orders, oldest first.
func (c *Context) Pending() []schema.PendingOrder { return c.engine.Pending(c.Symbol()) }

// OrderOption adjusts a trading call.
type OrderOption func(*schema.OrderIntent)

// WithOrderType overrides the instrument's default directive.
func WithOrderType(t schema.OrderType) OrderOption {
	return func(i *schema.OrderIntent) { i.OrderType = t }
}

// WithPrice sets the limit price. Implies a limit directive when none was
// chosen.
func WithPrice(p decimal.Decimal) OrderOption {
	return func(i *schema.OrderIntent) {
		i.Price = &p
		if i.OrderType == "" {
			i.OrderType = schema.OrderTypeLimit
		}
	}
}

// WithOffsetTicks widens a market order by whole ticks in the aggressive
// direction.
func WithOffsetTicks(ticks int) OrderOption {
	return func(i *schema.OrderIntent) { i.OffsetTicks = &ticks }
}

// WithReason tags the order and its fills for the journal.
func WithReason(reason string) OrderOption {
	return func(i *schema.OrderIntent) { i.Reason = reason }
}

// WithCloseYesterday closes history lots directly instead of the default
// today-first ordering. Only valid on Sell and BuyCover.
func WithCloseYesterday() OrderOption {
	return func(i *schema.OrderIntent) { i.CloseYesterday = true }
}

// Buy opens long volume.
func (c *Context) Buy(volume int64, opts ...OrderOption) (string, error) {
	return c.submit(schema.SideBuy, volume, opts)
}

// Sell closes long volume.
func (c *Context) Sell(volume int64, opts ...OrderOption) (string, error) {
	return c.submit(schema.SideSell, volume, opts)
}

// SellShort opens short volume.
func (c *Context) SellShort(volume int64, opts ...OrderOption) (string, error) {
	return c.submit(schema.SideShort, volume, opts)
}

// BuyCover closes short volume.
func (c *Context) BuyCover(volume int64, opts ...OrderOption) (string, error) {
	return c.submit(schema.SideCover, volume, opts)
}

func (c *Context) submit(side schema.Side, volume int64, opts []OrderOption) (string, error) {
	intent := schema.OrderIntent{Side: side, Source: c.active, Volume: volume}
	for _, opt := range opts {
		opt(&intent)
	}
	return c.engine.Submit(c.ctx, c.Symbol(), intent)
}

// CloseAll flattens the instrument, one closing order per held side.
func (c *Context) CloseAll(opts ...OrderOption) ([]string, error) {
	intent := schema.OrderIntent{}
	for _, opt := range opts {
		opt(&intent)
	}
	return c.engine.CloseAll(c.ctx, c.Symbol(), intent.OrderType, intent.Reason)
}

// ReversePos flips the net position to its mirror image.
func (c *Context) ReversePos(opts ...OrderOption) ([]string, error) {
	intent := schema.OrderIntent{}
	for _, opt := range opts {
		opt(&intent)
	}
	return c.engine.ReversePos(c.ctx, c.Symbol(), intent.OrderType, intent.Reason)
}

// CancelOrder withdraws one order by id.
func (c *Context) CancelOrder(orderID string) error {
	return c.engine.Cancel(c.ctx, orderID)
}

// CancelAllOrders withdraws every resting order for the instrument and
// reports how many were cancelled. With nothing resting it succeeds with
// zero.
func (c *Context) CancelAllOrders() (int, error) {
	return c.engine.CancelAll(c.ctx, c.Symbol())
}
