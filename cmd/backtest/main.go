package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/runner"
	"github.com/quantloop/quantloop/internal/strategy"
	"github.com/quantloop/quantloop/internal/strategy/strategies"
	"github.com/quantloop/quantloop/lib/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to the run configuration (YAML)")
	strategyName := flag.String("strategy", "noop", "Strategy to run")

	smaFast := flag.Int("sma.fast", 5, "Fast moving-average window")
	smaSlow := flag.Int("sma.slow", 20, "Slow moving-average window")
	smaVolume := flag.Int64("sma.volume", 1, "Lots per entry")

	flag.Parse()

	if *configPath == "" {
		log.Fatal("config path is required")
	}
	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	settings.Mode = config.ModeBacktest

	obs.SetLogger(obs.StdLogger{L: log.New(os.Stderr, "backtest ", log.LstdFlags)})

	ctx := context.Background()
	_, shutdownTelemetry, err := telemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	var strat strategy.Strategy
	switch *strategyName {
	case "noop":
		strat = strategies.NoOp{}
	case "sma":
		strat = &strategies.SMACross{Fast: *smaFast, Slow: *smaSlow, Volume: *smaVolume}
	default:
		log.Fatalf("unknown strategy: %s", *strategyName)
	}

	run, cleanup, err := runner.Assemble(ctx, settings, strat, nil)
	if err != nil {
		log.Fatalf("assemble: %v", err)
	}
	defer cleanup()

	if err := run.Run(ctx); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	account := run.Account()
	fmt.Printf("equity=%s realized=%s unrealized=%s\n",
		account.Equity(), account.RealizedPnL, account.UnrealizedPnL)
}
