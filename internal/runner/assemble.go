package runner

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/dispatch"
	"github.com/quantloop/quantloop/internal/engine"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/journal"
	"github.com/quantloop/quantloop/internal/ledger"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/strategy"
)

const dispatchErrBuffer = 64

// Assemble builds a ready-to-run Runner from settings: data sources loaded
// from disk, ledger, dispatcher, engine and the optional trade journal. The
// returned cleanup flushes the journal and must run after Run returns.
func Assemble(ctx context.Context, settings config.Settings, strat strategy.Strategy, adapter gateway.Adapter) (*Runner, func(), error) {
	sources := make([]*market.Source, 0, len(settings.Instruments))
	for _, inst := range settings.Instruments {
		src, err := market.NewSource(inst)
		if err != nil {
			return nil, nil, err
		}
		if inst.DataPath != "" {
			if inst.TickDriven {
				ticks, err := market.LoadTicksCSV(inst.DataPath)
				if err != nil {
					return nil, nil, fmt.Errorf("load %s: %w", inst.Symbol, err)
				}
				for _, tick := range ticks {
					if err := src.AppendTick(tick); err != nil {
						return nil, nil, err
					}
				}
			} else {
				bars, err := market.LoadBarsCSV(inst.DataPath)
				if err != nil {
					return nil, nil, fmt.Errorf("load %s: %w", inst.Symbol, err)
				}
				for _, bar := range bars {
					if err := src.AppendBar(bar); err != nil {
						return nil, nil, err
					}
				}
			}
		}
		sources = append(sources, src)
	}
	mgr, err := market.NewManager(sources)
	if err != nil {
		return nil, nil, err
	}

	led := ledger.New(settings.InitialCapital)
	for _, inst := range settings.Instruments {
		led.Register(inst)
	}

	disp := dispatch.New(dispatchErrBuffer)

	resolver, err := engine.ForMode(settings, adapter)
	if err != nil {
		return nil, nil, err
	}
	eng := engine.New(settings, mgr, led, disp, resolver)

	cleanup := func() {}
	if settings.Journal.DSN != "" {
		pool, err := pgxpool.New(ctx, settings.Journal.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("journal pool: %w", err)
		}
		writer := journal.NewWriter(pool)
		writer.Start(ctx)
		disp.Register(writer)
		cleanup = func() {
			writer.Close()
			pool.Close()
		}
	}

	return New(settings, mgr, led, disp, eng, strat, adapter), cleanup, nil
}
