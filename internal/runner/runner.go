// Package runner drives a strategy over the market data: advance the
// cursors, resolve pending orders, mark the ledger, then hand the step to
// the strategy. The same loop serves all execution modes.
package runner

import (
	"context"
	"sync"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/dispatch"
	"github.com/quantloop/quantloop/internal/engine"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/ledger"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/schema"
	"github.com/quantloop/quantloop/internal/strategy"
)

// Runner owns one strategy run.
type Runner struct {
	settings config.Settings
	mgr      *market.Manager
	ledger   *ledger.Ledger
	disp     *dispatch.Dispatcher
	engine   *engine.Engine
	strat    strategy.Strategy
	adapter  gateway.Adapter
}

// New assembles a runner. adapter is nil in backtest mode.
func New(settings config.Settings, mgr *market.Manager, led *ledger.Ledger, disp *dispatch.Dispatcher, eng *engine.Engine, strat strategy.Strategy, adapter gateway.Adapter) *Runner {
	return &Runner{
		settings: settings,
		mgr:      mgr,
		ledger:   led,
		disp:     disp,
		engine:   eng,
		strat:    strat,
		adapter:  adapter,
	}
}

// Run executes the strategy over the loaded data until the driving source is
// exhausted or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.registerHooks()

	var pump sync.WaitGroup
	if r.adapter != nil {
		pump.Add(1)
		go func() {
			defer pump.Done()
			for ev := range r.adapter.Events() {
				r.engine.OnGatewayEvent(ctx, ev)
			}
		}()
	}

	if init, ok := r.strat.(strategy.Initializer); ok {
		init.OnInit(r.context(ctx))
	}

	lastDay := ""
	for r.mgr.Advance() {
		if ctx.Err() != nil {
			break
		}
		day := r.mgr.Now().Format("2006-01-02")
		if lastDay != "" && day != lastDay {
			r.ledger.RollDay()
		}
		lastDay = day

		r.publishQuotes()
		r.engine.ProcessPending(ctx)
		r.mark()

		if r.mgr.Source(r.mgr.Driving()).Ready() {
			r.strat.OnBar(r.context(ctx))
		}
	}

	if fin, ok := r.strat.(strategy.Finisher); ok {
		fin.OnFinish(r.context(ctx))
	}

	if r.adapter != nil {
		if err := r.adapter.Close(); err != nil {
			obs.Log().Error("gateway close failed", obs.Err(err))
		}
		pump.Wait()
	}
	return ctx.Err()
}

// Account returns the ledger's aggregate account view.
func (r *Runner) Account() schema.AccountSnapshot {
	return r.ledger.Account()
}

func (r *Runner) context(ctx context.Context) *strategy.Context {
	return strategy.NewContext(ctx, r.engine, r.ledger, r.mgr, r.settings, r.mgr.Driving())
}

// publishQuotes feeds the paper venue the latest top of book so resting
// orders can cross.
func (r *Runner) publishQuotes() {
	paper, ok := r.adapter.(*gateway.Paper)
	if !ok {
		return
	}
	for _, src := range r.mgr.Sources() {
		if bid, ask, qok := src.BestQuote(); qok {
			paper.UpdateQuote(src.Symbol(), bid, ask, src.Timestamp())
		}
	}
}

func (r *Runner) mark() {
	for _, src := range r.mgr.Sources() {
		if price, ok := src.Price(); ok {
			r.ledger.Mark(src.Symbol(), price)
		}
	}
}

// registerHooks bridges dispatcher notifications to the strategy's optional
// listener interfaces.
func (r *Runner) registerHooks() {
	if nl, ok := r.strat.(strategy.NotificationListener); ok {
		r.disp.Register(dispatch.ObserverFunc(nl.OnNotification))
	}
	tl, hasTrades := r.strat.(strategy.TradeListener)
	el, hasErrors := r.strat.(strategy.ErrorListener)
	if !hasTrades && !hasErrors {
		return
	}
	r.disp.Register(dispatch.ObserverFunc(func(n schema.Notification) {
		switch n.Kind {
		case schema.KindTrade:
			if hasTrades && n.Trade != nil {
				tl.OnTrade(*n.Trade)
			}
		case schema.KindOrderError, schema.KindCancelError:
			if hasErrors && n.Err != nil {
				el.OnOrderError(n.Err)
			}
		}
	}))
}
