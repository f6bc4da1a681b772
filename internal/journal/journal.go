// Package journal persists fills and account snapshots to Postgres. The
// writer observes the dispatcher; inserts happen on a background goroutine
// so delivery is never blocked on the database.
package journal

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantloop/quantloop/internal/obs"
	"github.com/quantloop/quantloop/internal/schema"
)

const writerQueueSize = 1024

const tradeInsertSQL = `
INSERT INTO journal_trades (
    order_id,
    instrument,
    side,
    price,
    volume,
    is_open,
    reason,
    traded_at
)
VALUES (
    @order_id,
    @instrument,
    @side,
    @price,
    @volume,
    @is_open,
    @reason,
    @traded_at
);
`

const accountInsertSQL = `
INSERT INTO journal_accounts (
    instrument,
    available,
    margin_occupied,
    realized_pnl,
    unrealized_pnl,
    observed_at
)
VALUES (
    @instrument,
    @available,
    @margin_occupied,
    @realized_pnl,
    @unrealized_pnl,
    @observed_at
);
`

// Writer journals trade and account notifications.
type Writer struct {
	db    execAdapter
	queue chan schema.Notification
	once  sync.Once
	done  chan struct{}
}

type execAdapter func(ctx context.Context, sql string, args pgx.NamedArgs) error

// NewWriter journals into the given pool. Call Start before registering the
// writer with a dispatcher, and Close after the run drains.
func NewWriter(pool *pgxpool.Pool) *Writer {
	return newWriterWithExec(func(ctx context.Context, sql string, args pgx.NamedArgs) error {
		_, err := pool.Exec(ctx, sql, args)
		return err
	})
}

func newWriterWithExec(exec execAdapter) *Writer {
	return &Writer{
		db:    exec,
		queue: make(chan schema.Notification, writerQueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the background insert loop.
func (w *Writer) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for n := range w.queue {
			w.insert(ctx, n)
		}
	}()
}

// OnNotification implements dispatch.Observer. Full queues drop the record
// rather than stall delivery.
func (w *Writer) OnNotification(n schema.Notification) {
	if n.Kind != schema.KindTrade && n.Kind != schema.KindAccount {
		return
	}
	select {
	case w.queue <- n:
	default:
		obs.Log().Error("journal queue full, dropping record",
			obs.Str("instrument", n.Instrument), obs.Str("kind", string(n.Kind)))
	}
}

// Close flushes queued records and stops the insert loop.
func (w *Writer) Close() {
	w.once.Do(func() {
		close(w.queue)
		<-w.done
	})
}

func (w *Writer) insert(ctx context.Context, n schema.Notification) {
	var err error
	switch n.Kind {
	case schema.KindTrade:
		if n.Trade == nil {
			return
		}
		err = w.db(ctx, tradeInsertSQL, pgx.NamedArgs{
			"order_id":   n.Trade.OrderID,
			"instrument": n.Trade.Instrument,
			"side":       string(n.Trade.Side),
			"price":      n.Trade.Price,
			"volume":     n.Trade.Volume,
			"is_open":    n.Trade.Open,
			"reason":     n.Trade.Reason,
			"traded_at":  n.Trade.Timestamp,
		})
	case schema.KindAccount:
		if n.Account == nil {
			return
		}
		err = w.db(ctx, accountInsertSQL, pgx.NamedArgs{
			"instrument":      n.Instrument,
			"available":       n.Account.Available,
			"margin_occupied": n.Account.MarginOccupied,
			"realized_pnl":    n.Account.RealizedPnL,
			"unrealized_pnl":  n.Account.UnrealizedPnL,
			"observed_at":     n.Timestamp,
		})
	}
	if err != nil {
		obs.Log().Error("journal insert failed",
			obs.Str("instrument", n.Instrument), obs.Str("kind", string(n.Kind)), obs.Err(err))
	}
}
