// Package dispatch delivers engine notifications to registered observers with
// per-instrument ordering.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/schema"
)

// Observer receives every notification published for every instrument.
// Implementations must tolerate being called from gateway goroutines.
type Observer interface {
	OnNotification(n schema.Notification)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(n schema.Notification)

// OnNotification implements Observer.
func (f ObserverFunc) OnNotification(n schema.Notification) { f(n) }

// lane serializes delivery for a single instrument and stamps sequence numbers.
type lane struct {
	mu  sync.Mutex
	seq uint64
}

// Dispatcher fans notifications out to observers. For a single instrument,
// observers see notifications in the exact order the state transitions
// occurred; no ordering holds across instruments. Delivery is at-most-once
// per transition.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	lanes     map[string]*lane
	errCh     chan error
	metrics   *obs.Metrics
}

// New creates a dispatcher with an error channel of the given depth.
func New(errBuffer int) *Dispatcher {
	if errBuffer <= 0 {
		errBuffer = 64
	}
	return &Dispatcher{
		lanes:   make(map[string]*lane),
		errCh:   make(chan error, errBuffer),
		metrics: obs.GetMetrics(),
	}
}

// Register adds an observer. Observers registered mid-run only see
// notifications published after registration.
func (d *Dispatcher) Register(o Observer) {
	if o == nil {
		return
	}
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Errors exposes observer failures. Delivery never blocks on this channel;
// when it is full the failure is logged and dropped.
func (d *Dispatcher) Errors() <-chan error { return d.errCh }

func (d *Dispatcher) lane(instrument string) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	ln, ok := d.lanes[instrument]
	if !ok {
		ln = &lane{}
		d.lanes[instrument] = ln
	}
	return ln
}

// Publish delivers n to every observer, serialized per instrument. Gateway
// callbacks for the same instrument queue behind each other here; different
// instruments proceed independently. An observer panic is reported to the
// error channel and never blocks delivery to the remaining observers.
func (d *Dispatcher) Publish(n schema.Notification) {
	ln := d.lane(n.Instrument)
	ln.mu.Lock()
	defer ln.mu.Unlock()

	ln.seq++
	n.Sequence = ln.seq

	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()

	delivered := int64(0)
	for _, o := range observers {
		var catcher panics.Catcher
		catcher.Try(func() { o.OnNotification(n) })
		delivered++
		if recovered := catcher.Recovered(); recovered != nil {
			d.reportError(fmt.Errorf("observer failed handling %s for %s: %w",
				n.Kind, n.Instrument, recovered.AsError()))
		}
	}
	d.metrics.RecordDelivery(context.Background(), n.Instrument, delivered)
}

func (d *Dispatcher) reportError(err error) {
	select {
	case d.errCh <- err:
	default:
		obs.Log().Error("dispatch error channel full, dropping",
			obs.Err(err))
	}
}
