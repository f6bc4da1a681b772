package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/gateway"
	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/runner"
	"github.com/quantloop/quantloop/internal/strategy"
	"github.com/quantloop/quantloop/internal/strategy/strategies"
	"github.com/quantloop/quantloop/lib/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to the run configuration (YAML)")
	strategyName := flag.String("strategy", "noop", "Strategy to run")

	smaFast := flag.Int("sma.fast", 5, "Fast moving-average window")
	smaSlow := flag.Int("sma.slow", 20, "Slow moving-average window")
	smaVolume := flag.Int64("sma.volume", 1, "Lots per entry")

	flag.Parse()

	if *configPath == "" {
		return fmt.Errorf("config path is required")
	}
	settings, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if settings.Mode == config.ModeBacktest {
		settings.Mode = config.ModePaper
	}

	obs.SetLogger(obs.StdLogger{L: log.New(os.Stderr, "paper ", log.LstdFlags)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTelemetry, err := telemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
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
		return fmt.Errorf("unknown strategy: %s", *strategyName)
	}

	var adapter gateway.Adapter
	switch settings.Mode {
	case config.ModePaper:
		adapter = gateway.NewPaper()
	case config.ModeLive:
		remote, err := gateway.DialRemote(ctx, settings.Gateway.URL)
		if err != nil {
			return fmt.Errorf("dial gateway: %w", err)
		}
		adapter = remote
	}

	r, cleanup, err := runner.Assemble(ctx, settings, strat, adapter)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	defer cleanup()

	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	account := r.Account()
	fmt.Printf("equity=%s realized=%s unrealized=%s\n",
		account.Equity(), account.RealizedPnL, account.UnrealizedPnL)
	return nil
}
