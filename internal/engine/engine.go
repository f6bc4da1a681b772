package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/dispatch"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/ledger"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/schema"
)

// Engine owns the pending-order set and turns strategy trading calls into
// ledger mutations and observer notifications. All submissions pass through
// the same validation regardless of execution mode; only fill resolution
// differs per Resolver.
type Engine struct {
	mu       sync.Mutex
	settings config.Settings
	mgr      *market.Manager
	ledger   *ledger.Ledger
	disp     *dispatch.Dispatcher
	resolver Resolver
	metrics  *obs.Metrics
	newID    func() string

	pending map[string]*schema.PendingOrder
	// submission order, oldest first; price-time priority for resolution.
	queue []string
	// terminal statuses by order id, kept so late cancels stay idempotent.
	completed map[string]schema.OrderStatus
}

// New wires an engine over the shared market manager, ledger and dispatcher.
func New(settings config.Settings, mgr *market.Manager, led *ledger.Ledger, disp *dispatch.Dispatcher, resolver Resolver) *Engine {
	return &Engine{
		settings:  settings,
		mgr:       mgr,
		ledger:    led,
		disp:      disp,
		resolver:  resolver,
		metrics:   obs.GetMetrics(),
		newID:     uuid.NewString,
		pending:   make(map[string]*schema.PendingOrder),
		completed: make(map[string]schema.OrderStatus),
	}
}

// Submit validates one trading call and hands it to the resolver. The
// returned id identifies the order for later Cancel calls; an empty id with
// a nil error means the call resolved to nothing (closing a flat book with
// close-all semantics).
func (e *Engine) Submit(ctx context.Context, instrument string, intent schema.OrderIntent) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitLocked(ctx, instrument, intent)
}

func (e *Engine) submitLocked(ctx context.Context, instrument string, intent schema.OrderIntent) (string, error) {
	inst, ok := e.settings.InstrumentBySymbol(instrument)
	if !ok {
		return "", errs.New("engine", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(instrument), errs.WithMessage("unknown instrument"))
	}
	src := e.sourceFor(instrument)
	if src == nil {
		return "", errs.New("engine", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(instrument), errs.WithMessage("no data source for instrument"))
	}

	if !intent.Side.Valid() {
		return "", errs.New("engine", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(instrument), errs.WithMessage("unknown side"))
	}
	orderType := intent.OrderType
	if orderType == "" {
		if intent.Price != nil {
			orderType = schema.OrderTypeLimit
		} else {
			orderType = schema.ParseOrderType(inst.DefaultOrderType)
		}
	}
	if !orderType.Valid() {
		return "", errs.New("engine", errs.CodeUnsupportedOrderType,
			errs.WithInstrument(instrument), errs.WithMessage(string(orderType)))
	}
	if orderType == schema.OrderTypeLimit {
		if intent.Price == nil {
			return "", errs.New("engine", errs.CodeInvalidOrderIntent,
				errs.WithInstrument(instrument), errs.WithMessage("limit order requires a price"))
		}
		if e.settings.Mode == config.ModeBacktest && !e.settings.AllowRestingOrders {
			return "", errs.New("engine", errs.CodeUnsupportedOrderType,
				errs.WithInstrument(instrument), errs.WithMessage("resting limit orders disabled"))
		}
	}

	if intent.CloseYesterday && intent.Side.Opens() {
		return "", errs.New("engine", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(instrument), errs.WithMessage("close-yesterday on an opening side"))
	}
	volume := intent.Volume
	if !intent.Side.Opens() {
		held := e.heldFor(instrument, intent.Side)
		switch {
		case intent.CloseAll:
			if volume > held || volume <= 0 {
				volume = held
			}
			if volume == 0 {
				return "", nil
			}
		case volume > held:
			return "", errs.New("engine", errs.CodeOverClose,
				errs.WithInstrument(instrument),
				errs.WithMessage("close volume exceeds held position"))
		}
	}
	if volume <= 0 {
		return "", errs.New("engine", errs.CodeInvalidOrderIntent,
			errs.WithInstrument(instrument), errs.WithMessage("volume must be positive"))
	}

	order := &schema.PendingOrder{
		ID:             e.newID(),
		Instrument:     instrument,
		Side:           intent.Side,
		Source:         intent.Source,
		Volume:         volume,
		OrderType:      orderType,
		Reason:         intent.Reason,
		CloseAll:       intent.CloseAll,
		CloseYesterday: intent.CloseYesterday,
		SubmitIndex:    src.Index(),
		SubmitTime:     src.Timestamp(),
		Status:         schema.StatusPending,
	}

	switch orderType {
	case schema.OrderTypeLimit:
		order.LimitPrice = *intent.Price
	case schema.OrderTypeMarket:
		price, err := e.marketPrice(src, inst, intent)
		if err != nil {
			return "", err
		}
		order.LimitPrice = price
	}
	if ref, ok := src.Price(); ok {
		order.RefPrice = ref
	}

	e.metrics.RecordOrder(ctx, instrument)
	e.publish(schema.Notification{
		Kind:       schema.KindOrder,
		Instrument: instrument,
		Timestamp:  order.SubmitTime,
		Order:      orderSnapshot(order),
	})

	trades, err := e.resolver.Submit(ctx, order, src)
	if err != nil {
		order.Status = schema.StatusRejected
		e.completed[order.ID] = order.Status
		e.metrics.RecordRejection(ctx, instrument)
		e.publish(schema.Notification{
			Kind:       schema.KindOrderError,
			Instrument: instrument,
			Timestamp:  order.SubmitTime,
			Order:      orderSnapshot(order),
			Err:        err,
		})
		return "", err
	}

	e.applyTrades(ctx, order, trades)
	if order.Status.Terminal() {
		e.completed[order.ID] = order.Status
	} else {
		e.pending[order.ID] = order
		e.queue = append(e.queue, order.ID)
	}
	return order.ID, nil
}

// marketPrice computes the offset-adjusted touch a market order crosses at.
// Buy-side intents lift the ask, sell-side intents hit the bid; the offset
// widens the price in the aggressive direction by whole ticks.
func (e *Engine) marketPrice(src *market.Source, inst config.Instrument, intent schema.OrderIntent) (decimal.Decimal, error) {
	bid, ask, ok := src.BestQuote()
	if !ok {
		return decimal.Decimal{}, errs.New("engine", errs.CodeInsufficientHistory,
			errs.WithInstrument(inst.Symbol), errs.WithMessage("no quote to price market order"))
	}
	ticks := inst.DefaultOffsetTicks
	if intent.OffsetTicks != nil {
		ticks = *intent.OffsetTicks
	}
	offset := inst.PriceTick.Mul(decimal.NewFromInt(int64(ticks)))
	if intent.Side.Buys() {
		return ask.Add(offset), nil
	}
	return bid.Sub(offset), nil
}

// ProcessPending walks resting orders oldest first and asks the resolver to
// re-price each against the advanced market. Terminal orders leave the queue.
func (e *Engine) ProcessPending(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.queue[:0]
	for _, id := range e.queue {
		order, ok := e.pending[id]
		if !ok {
			continue
		}
		if order.Status.Terminal() {
			e.retire(order)
			continue
		}
		src := e.sourceFor(order.Instrument)
		if src == nil {
			remaining = append(remaining, id)
			continue
		}
		trades, err := e.resolver.Step(ctx, order, src)
		if err != nil {
			if errs.HasCode(err, errs.CodeGatewayRejected) {
				order.Status = schema.StatusRejected
				e.retire(order)
				e.release(order.ID)
				e.metrics.RecordRejection(ctx, order.Instrument)
			} else {
				remaining = append(remaining, id)
			}
			e.publish(schema.Notification{
				Kind:       schema.KindOrderError,
				Instrument: order.Instrument,
				Timestamp:  src.Timestamp(),
				Order:      orderSnapshot(order),
				Err:        err,
			})
			continue
		}
		e.applyTrades(ctx, order, trades)
		if order.Status.Terminal() {
			e.retire(order)
		} else {
			remaining = append(remaining, id)
		}
	}
	e.queue = remaining
}

// Cancel withdraws one pending order. Cancelling an order that already
// reached a terminal state is a no-op; cancelling an unknown id fails.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(ctx, orderID)
}

func (e *Engine) cancelLocked(ctx context.Context, orderID string) error {
	order, ok := e.pending[orderID]
	if !ok {
		if _, done := e.completed[orderID]; done {
			return nil
		}
		return errs.New("engine", errs.CodeCancelFailed,
			errs.WithOrderID(orderID), errs.WithMessage("unknown order"))
	}
	if order.Status.Terminal() {
		return nil
	}
	if err := e.resolver.Cancel(ctx, order); err != nil {
		e.publish(schema.Notification{
			Kind:       schema.KindCancelError,
			Instrument: order.Instrument,
			Timestamp:  order.SubmitTime,
			Order:      orderSnapshot(order),
			Err:        err,
		})
		return err
	}
	order.Status = schema.StatusCancelled
	e.retire(order)
	e.release(order.ID)
	e.metrics.RecordCancel(ctx, order.Instrument)
	e.publish(schema.Notification{
		Kind:       schema.KindCancel,
		Instrument: order.Instrument,
		Timestamp:  e.now(order.Instrument),
		Order:      orderSnapshot(order),
	})
	return nil
}

// CancelAll withdraws every pending order for the instrument, oldest
// submission first, and returns how many were cancelled. A run with nothing
// resting returns zero and no error.
func (e *Engine) CancelAll(ctx context.Context, instrument string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.pending))
	for _, id := range e.queue {
		order, ok := e.pending[id]
		if ok && order.Instrument == instrument && !order.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	cancelled := 0
	for _, id := range ids {
		if err := e.cancelLocked(ctx, id); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// CloseAll flattens the instrument: one closing order per held side, sized
// to the full side, never netted against each other. A flat book produces no
// orders.
func (e *Engine) CloseAll(ctx context.Context, instrument string, orderType schema.OrderType, reason string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeAllLocked(ctx, instrument, orderType, reason)
}

func (e *Engine) closeAllLocked(ctx context.Context, instrument string, orderType schema.OrderType, reason string) ([]string, error) {
	snap := e.ledger.Snapshot(instrument)
	var ids []string
	if long := snap.LongPos(); long > 0 {
		id, err := e.submitLocked(ctx, instrument, schema.OrderIntent{
			Side:      schema.SideSell,
			Volume:    long,
			OrderType: orderType,
			Reason:    reason,
			CloseAll:  true,
		})
		if err != nil {
			return ids, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	if short := snap.ShortPos(); short > 0 {
		id, err := e.submitLocked(ctx, instrument, schema.OrderIntent{
			Side:      schema.SideCover,
			Volume:    short,
			OrderType: orderType,
			Reason:    reason,
			CloseAll:  true,
		})
		if err != nil {
			return ids, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReversePos flattens the instrument and immediately opens the mirror-image
// position. Both legs carry the same directive so they resolve at the same
// price and time in simulation. A flat book reverses to nothing.
func (e *Engine) ReversePos(ctx context.Context, instrument string, orderType schema.OrderType, reason string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	net := e.ledger.Snapshot(instrument).NetPos()
	ids, err := e.closeAllLocked(ctx, instrument, orderType, reason)
	if err != nil {
		return ids, err
	}
	if net == 0 {
		return ids, nil
	}
	side := schema.SideShort
	volume := net
	if net < 0 {
		side = schema.SideBuy
		volume = -net
	}
	id, err := e.submitLocked(ctx, instrument, schema.OrderIntent{
		Side:      side,
		Volume:    volume,
		OrderType: orderType,
		Reason:    reason,
	})
	if err != nil {
		return ids, err
	}
	if id != "" {
		ids = append(ids, id)
	}
	return ids, nil
}

// Pending returns a copy of the instrument's non-terminal orders, oldest
// submission first.
func (e *Engine) Pending(instrument string) []schema.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []schema.PendingOrder
	for _, id := range e.queue {
		order, ok := e.pending[id]
		if ok && order.Instrument == instrument && !order.Status.Terminal() {
			out = append(out, *order)
		}
	}
	return out
}

// OnGatewayEvent folds one adapter event back into engine state. The runner
// pumps the adapter's event stream through here in paper and live modes.
func (e *Engine) OnGatewayEvent(ctx context.Context, ev gateway.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Kind {
	case gateway.EventTrade:
		order, ok := e.pending[ev.OrderID]
		if !ok {
			obs.Log().Error("gateway trade for unknown order",
				obs.Str("orderId", ev.OrderID), obs.Str("instrument", ev.Instrument))
			return
		}
		trade := schema.Trade{
			OrderID:        order.ID,
			Instrument:     order.Instrument,
			Side:           order.Side,
			Price:          ev.Price,
			Volume:         ev.Volume,
			Open:           order.Side.Opens(),
			CloseYesterday: order.CloseYesterday,
			CloseAll:       order.CloseAll,
			Timestamp:      ev.Timestamp,
			Reason:         order.Reason,
		}
		e.applyTrades(ctx, order, []schema.Trade{trade})
		if order.Status.Terminal() {
			e.retire(order)
			e.release(order.ID)
		}

	case gateway.EventOrderStatus:
		order, ok := e.pending[ev.OrderID]
		if !ok {
			return
		}
		if !order.Status.Terminal() && ev.Status != "" {
			order.Status = ev.Status
		}
		e.publish(schema.Notification{
			Kind:       schema.KindOrder,
			Instrument: order.Instrument,
			Timestamp:  ev.Timestamp,
			Order:      orderSnapshot(order),
		})
		if order.Status.Terminal() && order.Remaining() > 0 {
			e.retire(order)
			e.release(order.ID)
		}

	case gateway.EventCancelAck:
		order, ok := e.pending[ev.OrderID]
		if !ok {
			return
		}
		order.Status = schema.StatusCancelled
		e.retire(order)
		e.release(order.ID)
		e.metrics.RecordCancel(ctx, order.Instrument)
		e.publish(schema.Notification{
			Kind:       schema.KindCancel,
			Instrument: order.Instrument,
			Timestamp:  ev.Timestamp,
			Order:      orderSnapshot(order),
		})

	case gateway.EventReject:
		order, ok := e.pending[ev.OrderID]
		if !ok {
			return
		}
		order.Status = schema.StatusRejected
		e.retire(order)
		e.release(order.ID)
		e.metrics.RecordRejection(ctx, order.Instrument)
		e.publish(schema.Notification{
			Kind:       schema.KindOrderError,
			Instrument: order.Instrument,
			Timestamp:  ev.Timestamp,
			Order:      orderSnapshot(order),
			Err: errs.New("engine", errs.CodeGatewayRejected,
				errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
				errs.WithMessage(ev.Reason)),
		})

	case gateway.EventAccount:
		e.publish(schema.Notification{
			Kind:       schema.KindAccount,
			Instrument: ev.Instrument,
			Timestamp:  ev.Timestamp,
			Account:    ev.Account,
		})

	case gateway.EventPosition:
		e.publish(schema.Notification{
			Kind:       schema.KindPosition,
			Instrument: ev.Instrument,
			Timestamp:  ev.Timestamp,
			Position:   ev.Position,
		})
	}
}

func (e *Engine) applyTrades(ctx context.Context, order *schema.PendingOrder, trades []schema.Trade) {
	for _, trade := range trades {
		if err := e.ledger.Apply(trade); err != nil {
			order.Status = schema.StatusRejected
			e.completed[order.ID] = order.Status
			e.metrics.RecordRejection(ctx, order.Instrument)
			e.publish(schema.Notification{
				Kind:       schema.KindOrderError,
				Instrument: order.Instrument,
				Timestamp:  trade.Timestamp,
				Order:      orderSnapshot(order),
				Err:        err,
			})
			return
		}
		order.FilledVol += trade.Volume
		if order.Remaining() <= 0 {
			order.Status = schema.StatusFilled
		} else {
			order.Status = schema.StatusPartiallyFilled
		}
		e.metrics.RecordFill(ctx, order.Instrument)

		tradeCopy := trade
		position := e.ledger.Snapshot(order.Instrument)
		account := e.ledger.Account()
		e.publish(schema.Notification{
			Kind:       schema.KindTrade,
			Instrument: order.Instrument,
			Timestamp:  trade.Timestamp,
			Trade:      &tradeCopy,
		})
		e.publish(schema.Notification{
			Kind:       schema.KindOrder,
			Instrument: order.Instrument,
			Timestamp:  trade.Timestamp,
			Order:      orderSnapshot(order),
		})
		e.publish(schema.Notification{
			Kind:       schema.KindPosition,
			Instrument: order.Instrument,
			Timestamp:  trade.Timestamp,
			Position:   &position,
		})
		e.publish(schema.Notification{
			Kind:       schema.KindAccount,
			Instrument: order.Instrument,
			Timestamp:  trade.Timestamp,
			Account:    &account,
		})
	}
}

func (e *Engine) heldFor(instrument string, side schema.Side) int64 {
	snap := e.ledger.Snapshot(instrument)
	if side.Long() {
		return snap.LongPos()
	}
	return snap.ShortPos()
}

func (e *Engine) sourceFor(instrument string) *market.Source {
	for _, src := range e.mgr.Sources() {
		if src.Symbol() == instrument {
			return src
		}
	}
	return nil
}

func (e *Engine) now(instrument string) time.Time {
	if src := e.sourceFor(instrument); src != nil {
		return src.Timestamp()
	}
	return e.mgr.Now()
}

func (e *Engine) publish(n schema.Notification) {
	e.disp.Publish(n)
}

// retire drops a terminal order from the live set while remembering its
// final status.
func (e *Engine) retire(order *schema.PendingOrder) {
	delete(e.pending, order.ID)
	e.completed[order.ID] = order.Status
}

func (e *Engine) release(orderID string) {
	if gr, ok := e.resolver.(*GatewayResolver); ok {
		gr.Release(orderID)
	}
}

func orderSnapshot(order *schema.PendingOrder) *schema.PendingOrder {
	snapshot := *order
	return &snapshot
}
