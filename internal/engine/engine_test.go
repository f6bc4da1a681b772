package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/dispatch"
	"github.com/quantloop/quantloop/internal/ledger"
	"github.com/quantloop/quantloop/internal/market"
	"github.com/quantloop/quantloop/internal/schema"
)

const testSymbol = "IF2412"

// Bars are synthesised from closing prices: open = close - 0.5,
// high = close + 1, low = close - 1.
var testCloses = []string{"10", "11", "9", "12", "13", "9", "8", "14", "15", "16"}

type harness struct {
	eng    *Engine
	mgr    *market.Manager
	led    *ledger.Ledger
	disp   *dispatch.Dispatcher
	trades *[]schema.Trade
}

func newHarness(t *testing.T, allowResting bool) *harness {
	t.Helper()
	inst := config.Instrument{
		Symbol:             testSymbol,
		Period:             time.Minute,
		PriceTick:          decimal.RequireFromString("0.5"),
		ContractMultiplier: 1,
	}
	settings := config.Settings{
		Mode:               config.ModeBacktest,
		InitialCapital:     decimal.NewFromInt(1_000_000),
		AllowRestingOrders: allowResting,
		Instruments:        []config.Instrument{inst},
	}

	src, err := market.NewSource(inst)
	require.NoError(t, err)
	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	half := decimal.RequireFromString("0.5")
	one := decimal.NewFromInt(1)
	for i, raw := range testCloses {
		closePx := decimal.RequireFromString(raw)
		require.NoError(t, src.AppendBar(schema.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      closePx.Sub(half),
			High:      closePx.Add(one),
			Low:       closePx.Sub(one),
			Close:     closePx,
			Volume:    100,
		}))
	}
	mgr, err := market.NewManager([]*market.Source{src})
	require.NoError(t, err)

	led := ledger.New(settings.InitialCapital)
	led.Register(inst)

	trades := &[]schema.Trade{}
	disp := dispatch.New(8)
	disp.Register(dispatch.ObserverFunc(func(n schema.Notification) {
		if n.Kind == schema.KindTrade && n.Trade != nil {
			*trades = append(*trades, *n.Trade)
		}
	}))

	return &harness{
		eng:    New(settings, mgr, led, disp, NewSim()),
		mgr:    mgr,
		led:    led,
		disp:   disp,
		trades: trades,
	}
}

// step advances the market one bar and resolves resting orders, mirroring
// the runner's loop order.
func (h *harness) step(t *testing.T) {
	t.Helper()
	require.True(t, h.mgr.Advance(), "data exhausted")
	h.eng.ProcessPending(context.Background())
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBarClose_FillsImmediately(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)

	id, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Len(t, *h.trades, 1)
	require.True(t, (*h.trades)[0].Price.Equal(price("10")), "fill at current close")
	require.Empty(t, h.eng.Pending(testSymbol))
}

func TestNextOpen_DefersToFollowingBar(t *testing.T) {
	h := newHarness(t, false)
	h.step(t) // bar 0, close 10

	_, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeNextOpen,
	})
	require.NoError(t, err)
	require.Empty(t, *h.trades, "no fill on the submission bar")
	require.Len(t, h.eng.Pending(testSymbol), 1)

	h.step(t) // bar 1, open 10.5
	require.Len(t, *h.trades, 1)
	require.True(t, (*h.trades)[0].Price.Equal(price("10.5")), "fill at next bar open, got %s", (*h.trades)[0].Price)

	h.step(t) // bar 2
	h.step(t) // bar 3
	h.step(t) // bar 4, close 13

	_, err = h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideSell, Volume: 1, OrderType: schema.OrderTypeNextOpen,
	})
	require.NoError(t, err)

	h.step(t) // bar 5, open 8.5
	require.Len(t, *h.trades, 2)
	require.True(t, (*h.trades)[1].Price.Equal(price("8.5")))
	require.EqualValues(t, 0, h.led.Snapshot(testSymbol).NetPos())
}

func TestNextHighNextLow_FillAtNamedField(t *testing.T) {
	h := newHarness(t, false)
	h.step(t) // bar 0

	_, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeNextHigh,
	})
	require.NoError(t, err)
	_, err = h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideShort, Volume: 1, OrderType: schema.OrderTypeNextLow,
	})
	require.NoError(t, err)

	h.step(t) // bar 1: high 12, low 10
	require.Len(t, *h.trades, 2)
	require.True(t, (*h.trades)[0].Price.Equal(price("12")))
	require.True(t, (*h.trades)[1].Price.Equal(price("10")))
}

func TestMarket_OffsetWidensAggressively(t *testing.T) {
	h := newHarness(t, false)
	h.step(t) // bar 0, quote 10/10 from the close

	offset := 2
	_, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeMarket, OffsetTicks: &offset,
	})
	require.NoError(t, err)

	// ask 10 + 2 ticks * 0.5.
	require.Len(t, *h.trades, 1)
	require.True(t, (*h.trades)[0].Price.Equal(price("11")))
}

func TestLimit_RestsUntilTouchedThenFillsAtLimit(t *testing.T) {
	h := newHarness(t, true)
	h.step(t) // bar 0, close 10

	limit := price("8.5")
	_, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeLimit, Price: &limit,
	})
	require.NoError(t, err)

	h.step(t) // bar 1, low 10: no touch
	require.Empty(t, *h.trades)
	pending := h.eng.Pending(testSymbol)
	require.Len(t, pending, 1)
	require.Equal(t, schema.StatusPending, pending[0].Status)

	h.step(t) // bar 2, low 8 <= 8.5
	require.Len(t, *h.trades, 1)
	require.True(t, (*h.trades)[0].Price.Equal(limit), "fill at exactly the limit price")
	require.Empty(t, h.eng.Pending(testSymbol))
}

func TestLimit_RejectedWhenRestingDisabled(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)

	limit := price("8.5")
	_, err := h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeLimit, Price: &limit,
	})
	require.True(t, errs.HasCode(err, errs.CodeUnsupportedOrderType), "err = %v", err)

	_, err = h.eng.Submit(context.Background(), testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, Price: &limit,
	})
	require.True(t, errs.HasCode(err, errs.CodeUnsupportedOrderType), "price alone implies limit: err = %v", err)
}

func TestSubmit_InvalidIntents(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: "sideways", Volume: 1, OrderType: schema.OrderTypeBarClose,
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalidOrderIntent), "err = %v", err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 0, OrderType: schema.OrderTypeBarClose,
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalidOrderIntent), "err = %v", err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: "stop_loss",
	})
	require.True(t, errs.HasCode(err, errs.CodeUnsupportedOrderType), "err = %v", err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeLimit,
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalidOrderIntent), "limit without price: err = %v", err)

	_, err = h.eng.Submit(ctx, "unknown", schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeBarClose,
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalidOrderIntent), "err = %v", err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeBarClose, CloseYesterday: true,
	})
	require.True(t, errs.HasCode(err, errs.CodeInvalidOrderIntent), "close-yesterday on open: err = %v", err)
}

func TestSubmit_OverCloseRejectedAtIntentTime(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 2, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideSell, Volume: 3, OrderType: schema.OrderTypeBarClose,
	})
	require.True(t, errs.HasCode(err, errs.CodeOverClose), "err = %v", err)
	require.Len(t, *h.trades, 1, "rejected close produces no trade")
	require.EqualValues(t, 2, h.led.Snapshot(testSymbol).LongPos())
}

func TestSubmit_CloseYesterdayConsumesHistoryLots(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 2, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)
	h.led.RollDay()
	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)

	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideSell, Volume: 1, OrderType: schema.OrderTypeBarClose, CloseYesterday: true,
	})
	require.NoError(t, err)

	snap := h.led.Snapshot(testSymbol)
	require.EqualValues(t, 1, snap.LongYd, "history lot consumed first")
	require.EqualValues(t, 1, snap.LongToday, "today lot untouched")
}

func TestCloseAll_OneOrderPerHeldSide(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 2, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)
	_, err = h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideShort, Volume: 1, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)

	ids, err := h.eng.CloseAll(ctx, testSymbol, schema.OrderTypeBarClose, "flatten")
	require.NoError(t, err)
	require.Len(t, ids, 2, "one closing order per held side")

	closes := (*h.trades)[2:]
	require.Len(t, closes, 2)
	require.Equal(t, schema.SideSell, closes[0].Side)
	require.EqualValues(t, 2, closes[0].Volume)
	require.Equal(t, schema.SideCover, closes[1].Side)
	require.EqualValues(t, 1, closes[1].Volume)

	snap := h.led.Snapshot(testSymbol)
	require.EqualValues(t, 0, snap.LongPos())
	require.EqualValues(t, 0, snap.ShortPos())
}

func TestCloseAll_FlatBookProducesNothing(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)

	ids, err := h.eng.CloseAll(context.Background(), testSymbol, schema.OrderTypeBarClose, "")
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Empty(t, *h.trades)
}

func TestReversePos_FlipsNetAtSamePriceAndTime(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 2, OrderType: schema.OrderTypeBarClose,
	})
	require.NoError(t, err)

	_, err = h.eng.ReversePos(ctx, testSymbol, schema.OrderTypeBarClose, "flip")
	require.NoError(t, err)

	require.Len(t, *h.trades, 3)
	closing, opening := (*h.trades)[1], (*h.trades)[2]
	require.Equal(t, schema.SideSell, closing.Side)
	require.Equal(t, schema.SideShort, opening.Side)
	require.True(t, closing.Price.Equal(opening.Price), "both legs at one price")
	require.Equal(t, closing.Timestamp, opening.Timestamp)
	require.EqualValues(t, -2, h.led.Snapshot(testSymbol).NetPos())
}

func TestCancelAll_NothingRestingSucceedsWithZero(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)

	n, err := h.eng.CancelAll(context.Background(), testSymbol)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCancel_PendingThenIdempotent(t *testing.T) {
	h := newHarness(t, false)
	h.step(t)
	ctx := context.Background()

	id, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
		Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeNextOpen,
	})
	require.NoError(t, err)

	require.NoError(t, h.eng.Cancel(ctx, id))
	require.Empty(t, h.eng.Pending(testSymbol))

	// Cancelling a terminal order again is a no-op.
	require.NoError(t, h.eng.Cancel(ctx, id))

	err = h.eng.Cancel(ctx, "no-such-order")
	require.True(t, errs.HasCode(err, errs.CodeCancelFailed), "err = %v", err)

	h.step(t)
	require.Empty(t, *h.trades, "cancelled order never fills")
}

func TestCancelAll_WithdrawsEveryRestingOrderInSubmissionOrder(t *testing.T) {
	h := newHarness(t, true)
	h.step(t)
	ctx := context.Background()

	var cancelled []string
	h.disp.Register(dispatch.ObserverFunc(func(n schema.Notification) {
		if n.Kind == schema.KindCancel && n.Order != nil {
			cancelled = append(cancelled, n.Order.ID)
		}
	}))

	limit := price("5")
	submitted := make([]string, 0, 3)
	for range 3 {
		id, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
			Side: schema.SideBuy, Volume: 1, OrderType: schema.OrderTypeLimit, Price: &limit,
		})
		require.NoError(t, err)
		submitted = append(submitted, id)
	}

	n, err := h.eng.CancelAll(ctx, testSymbol)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Empty(t, h.eng.Pending(testSymbol))
	require.Equal(t, submitted, cancelled, "cancellation follows submission order")
}

// Two runs over the same data and the same decision sequence must produce
// byte-identical trade tapes.
func TestRun_Deterministic(t *testing.T) {
	run := func() []string {
		h := newHarness(t, false)
		ctx := context.Background()
		step := 0
		for {
			if !h.mgr.Advance() {
				break
			}
			h.eng.ProcessPending(ctx)
			switch step {
			case 0:
				_, err := h.eng.Submit(ctx, testSymbol, schema.OrderIntent{
					Side: schema.SideBuy, Volume: 2, OrderType: schema.OrderTypeNextOpen,
				})
				require.NoError(t, err)
			case 3:
				_, err := h.eng.ReversePos(ctx, testSymbol, schema.OrderTypeBarClose, "")
				require.NoError(t, err)
			case 7:
				_, err := h.eng.CloseAll(ctx, testSymbol, schema.OrderTypeNextOpen, "")
				require.NoError(t, err)
			}
			step++
		}
		tape := make([]string, 0, len(*h.trades))
		for _, tr := range *h.trades {
			tape = append(tape, fmt.Sprintf("%s|%s|%d|%t|%s",
				tr.Side, tr.Price, tr.Volume, tr.Open, tr.Timestamp.Format(time.RFC3339)))
		}
		return tape
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	require.Equal(t, first, second)
}
