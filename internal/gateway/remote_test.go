package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/quantloop/internal/schema"
)

// echoVenue acknowledges every submission with an immediate full fill and
// every cancel with an ack.
func echoVenue(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		for {
			_, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame remoteFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				return
			}
			var ev Event
			switch {
			case frame.Type == "submit" && frame.Order != nil:
				ev = Event{
					Kind:       EventTrade,
					Instrument: frame.Order.Instrument,
					OrderID:    frame.Order.ID,
					Handle:     Handle(frame.Order.ID),
					Price:      frame.Order.Limit,
					Volume:     frame.Order.Volume,
					Status:     schema.StatusFilled,
					Timestamp:  time.Now().UTC(),
				}
			case frame.Type == "cancel":
				ev = Event{
					Kind:    EventCancelAck,
					OrderID: string(frame.Handle),
					Handle:  frame.Handle,
					Status:  schema.StatusCancelled,
				}
			default:
				continue
			}
			out, err := json.Marshal(remoteFrame{Type: "event", Event: &ev})
			if err != nil {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRemote_SubmitRoundTrip(t *testing.T) {
	srv := echoVenue(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r, err := DialRemote(ctx, wsURL(srv))
	require.NoError(t, err)

	handle, err := r.Submit(ctx, Order{
		ID:         "o1",
		Instrument: "rb2501",
		Side:       schema.SideBuy,
		Offset:     OffsetOpen,
		Volume:     2,
		Limit:      decimal.RequireFromString("3500"),
	})
	require.NoError(t, err)
	require.Equal(t, Handle("o1"), handle)

	select {
	case ev := <-r.Events():
		require.Equal(t, EventTrade, ev.Kind)
		require.Equal(t, "o1", ev.OrderID)
		require.True(t, ev.Price.Equal(decimal.RequireFromString("3500")))
		require.EqualValues(t, 2, ev.Volume)
	case <-ctx.Done():
		t.Fatal("no event before deadline")
	}

	require.NoError(t, r.Cancel(ctx, handle))
	select {
	case ev := <-r.Events():
		require.Equal(t, EventCancelAck, ev.Kind)
	case <-ctx.Done():
		t.Fatal("no cancel ack before deadline")
	}

	require.NoError(t, r.Close())
	if _, open := <-r.Events(); open {
		// Drain anything in flight; the channel must eventually close.
		for range r.Events() {
		}
	}
}

func TestRemote_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := DialRemote(ctx, "ws://127.0.0.1:1/nope")
	require.Error(t, err)
}

func TestRemote_SubmitAfterCloseFails(t *testing.T) {
	srv := echoVenue(t)
	defer srv.Close()

	ctx := context.Background()
	r, err := DialRemote(ctx, wsURL(srv))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Submit(ctx, Order{ID: "o1", Instrument: "rb2501", Side: schema.SideBuy, Volume: 1})
	require.Error(t, err)
}
