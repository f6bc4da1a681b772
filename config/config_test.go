package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/errs"
)

func validInstrument() Instrument {
	return Instrument{
		Symbol:             "rb2501",
		Period:             time.Minute,
		PriceTick:          decimal.RequireFromString("1"),
		ContractMultiplier: 10,
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Instruments = []Instrument{validInstrument()}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	cases := map[string]func(s *Settings){
		"unknown mode":     func(s *Settings) { s.Mode = "replay" },
		"no instruments":   func(s *Settings) { s.Instruments = nil },
		"blank symbol":     func(s *Settings) { s.Instruments[0].Symbol = " " },
		"duplicate symbol": func(s *Settings) { s.Instruments = append(s.Instruments, validInstrument()) },
		"zero price tick":  func(s *Settings) { s.Instruments[0].PriceTick = decimal.Decimal{} },
		"zero multiplier":  func(s *Settings) { s.Instruments[0].ContractMultiplier = 0 },
		"negative margin":  func(s *Settings) { s.Instruments[0].MarginRate = decimal.RequireFromString("-1") },
		"zero bar period":  func(s *Settings) { s.Instruments[0].Period = 0 },
		"live without url": func(s *Settings) { s.Mode = ModeLive; s.Gateway.URL = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := Default()
			s.Instruments = []Instrument{validInstrument()}
			mutate(&s)
			if err := s.Validate(); !errs.HasCode(err, errs.CodeInvalid) {
				t.Fatalf("err = %v, want invalid", err)
			}
		})
	}
}

func TestValidate_TickDrivenNeedsNoPeriod(t *testing.T) {
	s := Default()
	inst := validInstrument()
	inst.Period = 0
	inst.TickDriven = true
	s.Instruments = []Instrument{inst}
	if err := s.Validate(); err != nil {
		t.Fatalf("tick-driven instrument rejected: %v", err)
	}
}

func TestLoad_LayersOverDefault(t *testing.T) {
	raw := `
mode: paper
initialCapital: "250000"
allowRestingOrders: true
instruments:
  - symbol: rb2501
    period: 60000000000
    priceTick: "1"
    contractMultiplier: 10
    marginRate: "0.1"
gateway:
  url: ws://localhost:9000/trade
journal:
  dsn: postgres://qt:qt@localhost:5432/quantloop
`
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Mode != ModePaper {
		t.Fatalf("mode = %s", s.Mode)
	}
	if !s.InitialCapital.Equal(decimal.NewFromInt(250_000)) {
		t.Fatalf("initialCapital = %s", s.InitialCapital)
	}
	if !s.AllowRestingOrders {
		t.Fatal("allowRestingOrders not set")
	}
	if s.Gateway.ConfirmTimeout != 5*time.Second {
		t.Fatalf("default confirm timeout overwritten: %s", s.Gateway.ConfirmTimeout)
	}
	inst, ok := s.InstrumentBySymbol("rb2501")
	if !ok {
		t.Fatal("instrument missing")
	}
	if inst.Period != time.Minute {
		t.Fatalf("period = %s", inst.Period)
	}
	if !inst.MarginRate.Equal(decimal.RequireFromString("0.1")) {
		t.Fatalf("marginRate = %s", inst.MarginRate)
	}
}

func TestLoad_InvalidSettingsFail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("mode: replay\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid config accepted")
	}
}
