// Package engine turns strategy trading calls into fills. Validation,
// position clamping and pending-order bookkeeping live here; how an order
// actually executes is delegated to a Resolver chosen once per run.
package engine

import (
	"context"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/schema"
)

// Resolver decides how a validated order executes. The simulation resolver
// returns fills synchronously; the gateway resolver forwards to an adapter
// and fills arrive later on the adapter's event stream.
type Resolver interface {
	// Submit attempts execution of a freshly validated order. An empty fill
	// slice with a nil error means the order rests.
	Submit(ctx context.Context, order *schema.PendingOrder, src *market.Source) ([]schema.Trade, error)

	// Step re-examines a resting order after the market advanced one record.
	Step(ctx context.Context, order *schema.PendingOrder, src *market.Source) ([]schema.Trade, error)

	// Cancel withdraws a resting order.
	Cancel(ctx context.Context, order *schema.PendingOrder) error
}

// ForMode selects the resolver for the configured execution mode. The choice
// is made once at startup; the engine never switches resolvers mid-run.
func ForMode(settings config.Settings, adapter gateway.Adapter) (Resolver, error) {
	switch settings.Mode {
	case config.ModeBacktest:
		return NewSim(), nil
	case config.ModePaper, config.ModeLive:
		if adapter == nil {
			return nil, errs.New("engine", errs.CodeInvalid,
				errs.WithMessage("gateway adapter required in paper/live mode"))
		}
		return NewGatewayResolver(adapter, settings.Gateway), nil
	default:
		return nil, errs.New("engine", errs.CodeInvalid,
			errs.WithMessage("unknown execution mode"))
	}
}
