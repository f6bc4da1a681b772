// Package config centralises run and instrument configuration for quantloop binaries.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/quantloop/quantloop/errs"
)

// Mode selects the execution back-end for a run.
type Mode string

const (
	// ModeBacktest resolves fills against the simulation clock.
	ModeBacktest Mode = "backtest"
	// ModePaper routes orders to the in-process paper gateway.
	ModePaper Mode = "paper"
	// ModeLive routes orders to a remote exchange gateway.
	ModeLive Mode = "live"
)

// Instrument holds the per-instrument trading parameters consumed by the core.
type Instrument struct {
	Symbol             string          `yaml:"symbol"`
	Period             time.Duration   `yaml:"period"`
	TickDriven         bool            `yaml:"tickDriven"`
	PriceTick          decimal.Decimal `yaml:"priceTick"`
	ContractMultiplier int64           `yaml:"contractMultiplier"`
	CommissionRate     decimal.Decimal `yaml:"commissionRate"`
	MarginRate         decimal.Decimal `yaml:"marginRate"`
	DefaultOrderType   string          `yaml:"defaultOrderType"`
	DefaultOffsetTicks int             `yaml:"defaultOffsetTicks"`
	MinHistory         int             `yaml:"minHistory"`
	StartDate          string          `yaml:"startDate"`
	DataPath           string          `yaml:"dataPath"`
	TickCacheSize      int             `yaml:"tickCacheSize"`
}

// Gateway configures the paper/live gateway adapter.
type Gateway struct {
	URL            string        `yaml:"url"`
	OrderThrottle  float64       `yaml:"orderThrottle"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
}

// Journal configures the optional trade journal sink.
type Journal struct {
	DSN string `yaml:"dsn"`
}

// Telemetry configures metric export.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings is the configuration tree for one run.
type Settings struct {
	Mode               Mode            `yaml:"mode"`
	InitialCapital     decimal.Decimal `yaml:"initialCapital"`
	AllowRestingOrders bool            `yaml:"allowRestingOrders"`
	Instruments        []Instrument    `yaml:"instruments"`
	Gateway            Gateway         `yaml:"gateway"`
	Journal            Journal         `yaml:"journal"`
	Telemetry          Telemetry       `yaml:"telemetry"`
}

// Default returns the baseline configuration for a single-instrument backtest.
func Default() Settings {
	return Settings{
		Mode:               ModeBacktest,
		InitialCapital:     decimal.NewFromInt(100_000),
		AllowRestingOrders: false,
		Gateway: Gateway{
			OrderThrottle:  20,
			ConfirmTimeout: 5 * time.Second,
		},
	}
}

// Load reads settings from path, layered over Default.
func Load(path string) (Settings, error) {
	settings := Default()
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator provided via CLI flags.
	if err != nil {
		return settings, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("parse config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate checks the configuration tree before a run starts.
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeBacktest, ModePaper, ModeLive:
	default:
		return errs.New("config", errs.CodeInvalid, errs.WithMessage(fmt.Sprintf("unknown mode %q", s.Mode)))
	}
	if len(s.Instruments) == 0 {
		return errs.New("config", errs.CodeInvalid, errs.WithMessage("at least one instrument required"))
	}
	seen := make(map[string]struct{}, len(s.Instruments))
	for _, inst := range s.Instruments {
		symbol := strings.TrimSpace(inst.Symbol)
		if symbol == "" {
			return errs.New("config", errs.CodeInvalid, errs.WithMessage("instrument symbol required"))
		}
		if _, dup := seen[symbol]; dup {
			return errs.New("config", errs.CodeInvalid,
				errs.WithInstrument(symbol), errs.WithMessage("duplicate instrument"))
		}
		seen[symbol] = struct{}{}
		if inst.PriceTick.Sign() <= 0 {
			return errs.New("config", errs.CodeInvalid,
				errs.WithInstrument(symbol), errs.WithMessage("priceTick must be > 0"))
		}
		if inst.ContractMultiplier <= 0 {
			return errs.New("config", errs.CodeInvalid,
				errs.WithInstrument(symbol), errs.WithMessage("contractMultiplier must be > 0"))
		}
		if inst.MarginRate.Sign() < 0 || inst.CommissionRate.Sign() < 0 {
			return errs.New("config", errs.CodeInvalid,
				errs.WithInstrument(symbol), errs.WithMessage("rates must be >= 0"))
		}
		if !inst.TickDriven && inst.Period <= 0 {
			return errs.New("config", errs.CodeInvalid,
				errs.WithInstrument(symbol), errs.WithMessage("bar period must be > 0"))
		}
	}
	if s.Mode == ModeLive && strings.TrimSpace(s.Gateway.URL) == "" {
		return errs.New("config", errs.CodeInvalid, errs.WithMessage("gateway url required in live mode"))
	}
	return nil
}

// InstrumentBySymbol returns the instrument settings for symbol.
func (s Settings) InstrumentBySymbol(symbol string) (Instrument, bool) {
	for _, inst := range s.Instruments {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return Instrument{}, false
}
