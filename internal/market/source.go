// Package market owns the aligned bar/tick streams a run reads from. It is
// the sole authority on what is known at the current simulated instant.
package market

import (
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/config"
	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/schema"
)

const defaultTickCacheSize = 1024

// Source is one traded instrument at one sampling period. The cursor only
// advances, never rewinds, during a single run.
type Source struct {
	symbol     string
	period     time.Duration
	tickDriven bool
	minHistory int
	startDate  time.Time

	bars   []schema.Bar
	ticks  []schema.Tick
	cache  *TickCache
	cursor int
}

// NewSource builds an empty source from instrument settings.
func NewSource(inst config.Instrument) (*Source, error) {
	s := &Source{
		symbol:     inst.Symbol,
		period:     inst.Period,
		tickDriven: inst.TickDriven,
		minHistory: inst.MinHistory,
		cursor:     -1,
	}
	if inst.TickDriven {
		size := inst.TickCacheSize
		if size <= 0 {
			size = defaultTickCacheSize
		}
		s.cache = NewTickCache(size)
	}
	if inst.StartDate != "" {
		start, err := time.Parse("2006-01-02", inst.StartDate)
		if err != nil {
			return nil, errs.New("market", errs.CodeInvalid,
				errs.WithInstrument(inst.Symbol),
				errs.WithMessage(fmt.Sprintf("bad startDate %q", inst.StartDate)))
		}
		s.startDate = start
	}
	return s, nil
}

// Symbol returns the instrument identifier.
func (s *Source) Symbol() string { return s.symbol }

// Period returns the sampling period; zero for tick-driven sources.
func (s *Source) Period() time.Duration { return s.period }

// TickDriven reports whether the source consumes ticks rather than bars.
func (s *Source) TickDriven() bool { return s.tickDriven }

// MinHistory returns the configured minimum-history requirement.
func (s *Source) MinHistory() int { return s.minHistory }

// AppendBar adds a bar to the sequence. Out-of-order or duplicate timestamps
// are a data-integrity violation, fatal to the run.
func (s *Source) AppendBar(bar schema.Bar) error {
	if s.tickDriven {
		return errs.New("market", errs.CodeInvalid,
			errs.WithInstrument(s.symbol), errs.WithMessage("bar appended to tick-driven source"))
	}
	if n := len(s.bars); n > 0 && !bar.Timestamp.After(s.bars[n-1].Timestamp) {
		return errs.New("market", errs.CodeDataIntegrity,
			errs.WithInstrument(s.symbol),
			errs.WithMessage(fmt.Sprintf("bar timestamp %s not after %s",
				bar.Timestamp.Format(time.RFC3339), s.bars[n-1].Timestamp.Format(time.RFC3339))))
	}
	s.bars = append(s.bars, bar)
	return nil
}

// AppendTick adds a tick to the sequence of a tick-driven source.
func (s *Source) AppendTick(tick schema.Tick) error {
	if !s.tickDriven {
		return errs.New("market", errs.CodeInvalid,
			errs.WithInstrument(s.symbol), errs.WithMessage("tick appended to bar-driven source"))
	}
	if n := len(s.ticks); n > 0 && tick.Timestamp.Before(s.ticks[n-1].Timestamp) {
		return errs.New("market", errs.CodeDataIntegrity,
			errs.WithInstrument(s.symbol),
			errs.WithMessage("tick timestamps must be non-decreasing"))
	}
	s.ticks = append(s.ticks, tick)
	return nil
}

// Len returns the number of records in the sequence.
func (s *Source) Len() int {
	if s.tickDriven {
		return len(s.ticks)
	}
	return len(s.bars)
}

// Index returns the current cursor; -1 before the first advance.
func (s *Source) Index() int { return s.cursor }

// Exhausted reports whether the cursor sits on the final record.
func (s *Source) Exhausted() bool { return s.cursor >= s.Len()-1 }

// advance moves the cursor forward one record. Returns false at end of data.
func (s *Source) advance() bool {
	if s.cursor+1 >= s.Len() {
		return false
	}
	s.cursor++
	if s.tickDriven {
		s.cache.Push(s.ticks[s.cursor])
	}
	return true
}

// advanceUntil steps the cursor while the next record's timestamp does not
// exceed ts. Used to keep slower sources aligned behind the driving source.
func (s *Source) advanceUntil(ts time.Time) {
	for s.cursor+1 < s.Len() && !s.timestampAt(s.cursor+1).After(ts) {
		s.advance()
	}
}

func (s *Source) timestampAt(i int) time.Time {
	if s.tickDriven {
		return s.ticks[i].Timestamp
	}
	return s.bars[i].Timestamp
}

// Ready reports whether the source has reached its configured start date and
// minimum history. Strategies are expected to guard on this (or on Index)
// rather than treat early reads as an engine fault.
func (s *Source) Ready() bool {
	if s.cursor < 0 || s.cursor < s.minHistory {
		return false
	}
	if !s.startDate.IsZero() && s.timestampAt(s.cursor).Before(s.startDate) {
		return false
	}
	return true
}

// RequireHistory returns an insufficient-history condition when fewer than n
// records are behind the cursor.
func (s *Source) RequireHistory(n int) error {
	if s.cursor+1 >= n {
		return nil
	}
	return errs.New("market", errs.CodeInsufficientHistory,
		errs.WithInstrument(s.symbol),
		errs.WithMessage(fmt.Sprintf("need %d records, have %d", n, s.cursor+1)))
}

// CurrentBar returns the bar at the cursor.
func (s *Source) CurrentBar() (schema.Bar, bool) {
	if s.tickDriven || s.cursor < 0 || s.cursor >= len(s.bars) {
		return schema.Bar{}, false
	}
	return s.bars[s.cursor], true
}

// BarAt returns the bar at index i when it is already known to the run.
// Requests beyond the cursor fail: simulation never leaks future bars except
// through the engine's own deferred-fill resolution.
func (s *Source) BarAt(i int) (schema.Bar, bool) {
	if s.tickDriven || i < 0 || i > s.cursor || i >= len(s.bars) {
		return schema.Bar{}, false
	}
	return s.bars[i], true
}

// CurrentTick returns the tick at the cursor of a tick-driven source.
func (s *Source) CurrentTick() (schema.Tick, bool) {
	if !s.tickDriven || s.cursor < 0 || s.cursor >= len(s.ticks) {
		return schema.Tick{}, false
	}
	return s.ticks[s.cursor], true
}

// Ticks exposes the rolling tick cache; empty for bar-driven sources.
func (s *Source) Ticks() *TickCache { return s.cache }

// Timestamp returns the time of the record at the cursor.
func (s *Source) Timestamp() time.Time {
	if s.cursor < 0 || s.cursor >= s.Len() {
		return time.Time{}
	}
	return s.timestampAt(s.cursor)
}

// Price returns the reference price at the cursor: bar close, or the tick
// midpoint for tick-driven sources.
func (s *Source) Price() (decimal.Decimal, bool) {
	if s.tickDriven {
		tick, ok := s.CurrentTick()
		if !ok {
			return decimal.Decimal{}, false
		}
		return tick.Mid(), true
	}
	bar, ok := s.CurrentBar()
	if !ok {
		return decimal.Decimal{}, false
	}
	return bar.Close, true
}

// BestQuote returns the current best bid and ask. Bar-driven sources quote
// both sides at the close.
func (s *Source) BestQuote() (bid, ask decimal.Decimal, ok bool) {
	if s.tickDriven {
		tick, found := s.CurrentTick()
		if !found {
			return decimal.Decimal{}, decimal.Decimal{}, false
		}
		return tick.BidPrice, tick.AskPrice, true
	}
	bar, found := s.CurrentBar()
	if !found {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return bar.Close, bar.Close, true
}

// Slice yields the last window bars up to and including the cursor as a lazy,
// restartable sequence. window <= 0 yields everything behind the cursor.
func (s *Source) Slice(window int) iter.Seq[schema.Bar] {
	return func(yield func(schema.Bar) bool) {
		if s.tickDriven || s.cursor < 0 {
			return
		}
		start := 0
		if window > 0 && s.cursor+1 > window {
			start = s.cursor + 1 - window
		}
		for i := start; i <= s.cursor; i++ {
			if !yield(s.bars[i]) {
				return
			}
		}
	}
}

// SliceTicks yields the last window ticks from the cache, oldest first.
func (s *Source) SliceTicks(window int) iter.Seq[schema.Tick] {
	return func(yield func(schema.Tick) bool) {
		for _, t := range s.cache.Window(window) {
			if !yield(t) {
				return
			}
		}
	}
}
