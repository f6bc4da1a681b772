// Package strategies bundles the built-in strategies selectable from the
// command line.
package strategies

import (
	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/schema"
	"github.com/quantloop/quantloop/internal/strategy"
)

// NoOp reads the market and never trades. Useful for data validation runs.
type NoOp struct{}

// OnBar implements strategy.Strategy.
func (NoOp) OnBar(*strategy.Context) {}

// SMACross trades a fast/slow moving-average crossover: long when the fast
// average is above the slow one, short when below, reversing on each flip.
type SMACross struct {
	Fast   int
	Slow   int
	Volume int64
}

// OnBar implements strategy.Strategy.
func (s *SMACross) OnBar(c *strategy.Context) {
	if err := c.RequireHistory(s.Slow); err != nil {
		return
	}
	fast := average(c.Bars(s.Fast))
	slow := average(c.Bars(s.Slow))

	pos := c.Pos()
	switch {
	case fast.GreaterThan(slow) && pos <= 0:
		s.flip(c, pos, schema.SideBuy)
	case fast.LessThan(slow) && pos >= 0:
		s.flip(c, pos, schema.SideShort)
	}
}

func (s *SMACross) flip(c *strategy.Context, pos int64, side schema.Side) {
	if pos != 0 {
		if _, err := c.ReversePos(strategy.WithReason("sma flip")); err != nil {
			obs.Log().Error("reverse failed",
				obs.Str("instrument", c.Symbol()), obs.Err(err))
		}
		return
	}
	var err error
	if side == schema.SideBuy {
		_, err = c.Buy(s.Volume, strategy.WithReason("sma cross up"))
	} else {
		_, err = c.SellShort(s.Volume, strategy.WithReason("sma cross down"))
	}
	if err != nil {
		obs.Log().Error("entry failed",
			obs.Str("instrument", c.Symbol()), obs.Err(err))
	}
}

// OnFinish flattens whatever is still open when the data runs out.
func (s *SMACross) OnFinish(c *strategy.Context) {
	if c.Pos() != 0 {
		_, _ = c.CloseAll(strategy.WithReason("end of data"))
	}
}

func average(bars []schema.Bar) decimal.Decimal {
	if len(bars) == 0 {
		return decimal.Decimal{}
	}
	sum := decimal.Decimal{}
	for _, bar := range bars {
		sum = sum.Add(bar.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars))))
}
