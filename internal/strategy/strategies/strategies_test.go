package strategies

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/internal/runner"
	"github.com/quantloop/quantloop/internal/schema"
)

func rampSettings(t *testing.T) config.Settings {
	t.Helper()
	closes := make([]int, 0, 29)
	for c := 1; c <= 15; c++ {
		closes = append(closes, c)
	}
	for c := 14; c >= 1; c-- {
		closes = append(closes, c)
	}

	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	body := "timestamp,open,high,low,close,volume\n"
	for i, c := range closes {
		ts := base.Add(time.Duration(i) * time.Minute)
		body += fmt.Sprintf("%s,%d,%d,%d,%d,50\n", ts.Format(time.RFC3339), c, c+1, c, c)
	}
	path := filepath.Join(t.TempDir(), "ramp.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	s := config.Default()
	s.Instruments = []config.Instrument{{
		Symbol:             "rb2501",
		Period:             time.Minute,
		PriceTick:          decimal.RequireFromString("1"),
		ContractMultiplier: 1,
		DefaultOrderType:   "bar_close",
		DataPath:           path,
	}}
	return s
}

func TestSMACross_RampUpThenDown(t *testing.T) {
	strat := &SMACross{Fast: 2, Slow: 5, Volume: 1}
	r, cleanup, err := runner.Assemble(context.Background(), rampSettings(t), strat, nil)
	require.NoError(t, err)
	defer cleanup()

	require.NoError(t, r.Run(context.Background()))

	account := r.Account()
	require.True(t, account.UnrealizedPnL.IsZero(), "flattened on finish")
	require.Positive(t, account.RealizedPnL.Sign(),
		"long the ramp up and short the ramp down should profit, got %s", account.RealizedPnL)
}

func TestAverage(t *testing.T) {
	bars := []schema.Bar{
		{Close: decimal.NewFromInt(10)},
		{Close: decimal.NewFromInt(11)},
		{Close: decimal.NewFromInt(12)},
	}
	require.True(t, average(bars).Equal(decimal.NewFromInt(11)))
	require.True(t, average(nil).IsZero())
}
