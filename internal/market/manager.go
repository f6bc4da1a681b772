package market

import (
	"time"

	"github.com/quantloop/quantloop/errs"
)

// Manager owns the configured sources and advances them in lock-step with the
// driving source (the fastest-updating one). One Advance equals one strategy
// invocation.
type Manager struct {
	sources []*Source
	driving int
	step    int
}

// NewManager wires the sources and picks the driving source: a tick-driven
// source when present, else the shortest bar period.
func NewManager(sources []*Source) (*Manager, error) {
	if len(sources) == 0 {
		return nil, errs.New("market", errs.CodeInvalid, errs.WithMessage("no sources configured"))
	}
	driving := 0
	for i, s := range sources[1:] {
		idx := i + 1
		if faster(s, sources[driving]) {
			driving = idx
		}
	}
	return &Manager{sources: sources, driving: driving}, nil
}

func faster(a, b *Source) bool {
	if a.TickDriven() != b.TickDriven() {
		return a.TickDriven()
	}
	return a.Period() < b.Period()
}

// Sources returns the managed sources in configuration order.
func (m *Manager) Sources() []*Source { return m.sources }

// Source returns the source at index i, nil when out of range.
func (m *Manager) Source(i int) *Source {
	if i < 0 || i >= len(m.sources) {
		return nil
	}
	return m.sources[i]
}

// Driving returns the index of the driving source.
func (m *Manager) Driving() int { return m.driving }

// Step returns the number of completed driving steps.
func (m *Manager) Step() int { return m.step }

// Now returns the driving source's current timestamp.
func (m *Manager) Now() time.Time { return m.sources[m.driving].Timestamp() }

// Advance moves the driving source forward one record and drags every other
// source up to (never past) the driving timestamp. Returns false once the
// driving source is exhausted.
func (m *Manager) Advance() bool {
	drive := m.sources[m.driving]
	if !drive.advance() {
		return false
	}
	now := drive.Timestamp()
	for i, s := range m.sources {
		if i == m.driving {
			continue
		}
		s.advanceUntil(now)
	}
	m.step++
	return true
}
