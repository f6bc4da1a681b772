package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/schema"
)

// GatewayResolver forwards orders to a gateway adapter. It never returns
// fills from Submit; trades come back on the adapter's event stream and are
// folded into the engine there. Deferred directives are held locally as
// conditional triggers and routed once the record after submission is in
// view. A token-bucket limiter throttles outbound submissions.
type GatewayResolver struct {
	adapter        gateway.Adapter
	limiter        *rate.Limiter
	confirmTimeout time.Duration

	mu      sync.Mutex
	handles map[string]gateway.Handle
	// order ids already sent to the venue; a trigger routes at most once.
	routed map[string]struct{}
}

// NewGatewayResolver wraps adapter with the configured throttle and confirm
// timeout.
func NewGatewayResolver(adapter gateway.Adapter, cfg config.Gateway) *GatewayResolver {
	throttle := cfg.OrderThrottle
	if throttle <= 0 {
		throttle = 20
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GatewayResolver{
		adapter:        adapter,
		limiter:        rate.NewLimiter(rate.Limit(throttle), 1),
		confirmTimeout: timeout,
		handles:        make(map[string]gateway.Handle),
		routed:         make(map[string]struct{}),
	}
}

// Submit hands immediate directives to the venue. Deferred directives rest
// locally until Step observes the trigger record.
func (g *GatewayResolver) Submit(ctx context.Context, order *schema.PendingOrder, _ *market.Source) ([]schema.Trade, error) {
	if order.OrderType.Deferred() {
		return nil, nil
	}
	return nil, g.route(ctx, order, order.LimitPrice, order.OrderType != schema.OrderTypeLimit)
}

// Step re-evaluates held deferred directives. Once the market has moved past
// the submission record the order is routed marketable, with the trigger
// record's price attached as a limit hint; the venue prices the fill.
func (g *GatewayResolver) Step(ctx context.Context, order *schema.PendingOrder, src *market.Source) ([]schema.Trade, error) {
	if !order.OrderType.Deferred() {
		return nil, nil
	}
	g.mu.Lock()
	_, sent := g.routed[order.ID]
	g.mu.Unlock()
	if sent || src.Index() <= order.SubmitIndex {
		return nil, nil
	}

	limit := order.RefPrice
	if bar, ok := src.BarAt(order.SubmitIndex + 1); ok {
		switch order.OrderType {
		case schema.OrderTypeNextOpen:
			limit = bar.Open
		case schema.OrderTypeNextClose:
			limit = bar.Close
		case schema.OrderTypeNextHigh:
			limit = bar.High
		case schema.OrderTypeNextLow:
			limit = bar.Low
		}
	} else if px, ok := src.Price(); ok {
		limit = px
	}
	return nil, g.route(ctx, order, limit, true)
}

// route throttles then sends one submission to the venue. A submission the
// venue does not acknowledge within the confirm timeout is reported as
// unconfirmed, not rejected: its true state is unknown.
func (g *GatewayResolver) route(ctx context.Context, order *schema.PendingOrder, limit decimal.Decimal, marketable bool) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return errs.New("engine.gateway", errs.CodeUnavailable,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithCause(err))
	}

	g.mu.Lock()
	g.routed[order.ID] = struct{}{}
	g.mu.Unlock()

	offset := gateway.OffsetOpen
	switch {
	case order.Side.Opens():
	case order.CloseYesterday:
		offset = gateway.OffsetCloseYd
	default:
		offset = gateway.OffsetClose
	}
	submission := gateway.Order{
		ID:         order.ID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Offset:     offset,
		Volume:     order.Remaining(),
		Limit:      limit,
		Marketable: marketable,
	}

	submitCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()
	handle, err := g.adapter.Submit(submitCtx, submission)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.New("engine.gateway", errs.CodeNotConfirmed,
				errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
				errs.WithMessage("no acknowledgement within confirm timeout"))
		}
		return err
	}

	g.mu.Lock()
	g.handles[order.ID] = handle
	g.mu.Unlock()
	return nil
}

// Cancel asks the venue to withdraw the order. A deferred directive that has
// not reached the venue yet withdraws locally.
func (g *GatewayResolver) Cancel(ctx context.Context, order *schema.PendingOrder) error {
	g.mu.Lock()
	handle, ok := g.handles[order.ID]
	if !ok {
		_, sent := g.routed[order.ID]
		g.mu.Unlock()
		if !sent && order.OrderType.Deferred() {
			return nil
		}
		return errs.New("engine.gateway", errs.CodeCancelFailed,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithMessage("no gateway handle for order"))
	}
	g.mu.Unlock()

	cancelCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()
	if err := g.adapter.Cancel(cancelCtx, handle); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errs.New("engine.gateway", errs.CodeNotConfirmed,
				errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
				errs.WithMessage("no cancel acknowledgement within confirm timeout"))
		}
		return errs.New("engine.gateway", errs.CodeCancelFailed,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithCause(err))
	}
	return nil
}

// Release drops the bookkeeping for a terminal order.
func (g *GatewayResolver) Release(orderID string) {
	g.mu.Lock()
	delete(g.handles, orderID)
	delete(g.routed, orderID)
	g.mu.Unlock()
}
