package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/quantloop/quantloop/errs"
	"github.com/quantloop/quantloop/internal/obs"
)

const (
	remoteEventBuffer = 1024
	remoteWriteWait   = 5 * time.Second
)

type remoteFrame struct {
	Type   string `json:"type"`
	Order  *Order `json:"order,omitempty"`
	Handle Handle `json:"handle,omitempty"`
	Event  *Event `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Remote speaks a JSON frame protocol over a websocket to an external trade
// gateway. Submissions and cancels are outbound frames; fills, order status
// and account updates stream back on Events. The read loop reconnects with
// exponential backoff until Close.
type Remote struct {
	url    string
	events chan Event

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// DialRemote connects to the gateway at url and starts the read loop.
func DialRemote(ctx context.Context, url string) (*Remote, error) {
	r := &Remote{
		url:    url,
		events: make(chan Event, remoteEventBuffer),
		done:   make(chan struct{}),
	}
	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	r.conn = conn

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.readLoop(loopCtx)
	return r, nil
}

func (r *Remote) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return nil, errs.New("gateway.remote", errs.CodeUnavailable,
			errs.WithMessage(fmt.Sprintf("dial %s", r.url)), errs.WithCause(err))
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Submit sends the order and returns the gateway handle. Confirmation of the
// submission arrives asynchronously on Events.
func (r *Remote) Submit(ctx context.Context, order Order) (Handle, error) {
	if err := r.write(ctx, remoteFrame{Type: "submit", Order: &order}); err != nil {
		return "", errs.New("gateway.remote", errs.CodeGatewayRejected,
			errs.WithInstrument(order.Instrument), errs.WithOrderID(order.ID),
			errs.WithCause(err))
	}
	return Handle(order.ID), nil
}

// Cancel requests cancellation of a previously submitted order.
func (r *Remote) Cancel(ctx context.Context, handle Handle) error {
	if err := r.write(ctx, remoteFrame{Type: "cancel", Handle: handle}); err != nil {
		return errs.New("gateway.remote", errs.CodeCancelFailed,
			errs.WithOrderID(string(handle)), errs.WithCause(err))
	}
	return nil
}

// Events returns the inbound event stream. The channel closes after Close.
func (r *Remote) Events() <-chan Event { return r.events }

// Close stops the read loop and closes the connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	r.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	<-r.done
	return nil
}

func (r *Remote) write(ctx context.Context, frame remoteFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	r.mu.Lock()
	conn := r.conn
	closed := r.closed
	r.mu.Unlock()
	if closed || conn == nil {
		return errs.New("gateway.remote", errs.CodeUnavailable, errs.WithMessage("not connected"))
	}
	writeCtx, cancel := context.WithTimeout(ctx, remoteWriteWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func (r *Remote) readLoop(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)
	for {
		conn := r.currentConn()
		if conn == nil {
			return
		}
		if err := r.readFrames(ctx, conn); err != nil {
			if ctx.Err() != nil || r.isClosed() {
				return
			}
			obs.Log().Error("gateway stream dropped, reconnecting",
				obs.Str("url", r.url), obs.Err(err))
		}
		if !r.reconnect(ctx) {
			return
		}
	}
}

func (r *Remote) readFrames(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame remoteFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			obs.Log().Error("gateway frame decode failed",
				obs.Err(err))
			continue
		}
		if frame.Event == nil {
			continue
		}
		select {
		case r.events <- *frame.Event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Remote) reconnect(ctx context.Context) bool {
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return r.dial(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(2*time.Minute))
	if err != nil {
		obs.Log().Error("gateway reconnect abandoned",
			obs.Str("url", r.url), obs.Err(err))
		return false
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
		return false
	}
	r.conn = conn
	r.mu.Unlock()
	obs.Log().Info("gateway reconnected", obs.Str("url", r.url))
	return true
}

func (r *Remote) currentConn() *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.conn
}

func (r *Remote) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
