package journal

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/quantloop/quantloop/internal/schema"
)

type recordedExec struct {
	mu   sync.Mutex
	sqls []string
	args []pgx.NamedArgs
}

func (r *recordedExec) exec(_ context.Context, sql string, args pgx.NamedArgs) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sqls = append(r.sqls, sql)
	r.args = append(r.args, args)
	return nil
}

func TestWriter_PersistsTradesAndAccounts(t *testing.T) {
	rec := &recordedExec{}
	w := newWriterWithExec(rec.exec)
	w.Start(context.Background())

	ts := time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC)
	w.OnNotification(schema.Notification{
		Kind:       schema.KindTrade,
		Instrument: "rb2501",
		Timestamp:  ts,
		Trade: &schema.Trade{
			OrderID:    "o1",
			Instrument: "rb2501",
			Side:       schema.SideBuy,
			Price:      decimal.RequireFromString("3500"),
			Volume:     2,
			Open:       true,
			Timestamp:  ts,
		},
	})
	w.OnNotification(schema.Notification{
		Kind:       schema.KindAccount,
		Instrument: "rb2501",
		Timestamp:  ts,
		Account: &schema.AccountSnapshot{
			Available:   decimal.NewFromInt(90_000),
			RealizedPnL: decimal.NewFromInt(100),
		},
	})
	// Kinds the journal does not persist are ignored.
	w.OnNotification(schema.Notification{Kind: schema.KindOrder, Instrument: "rb2501"})

	w.Close()

	if len(rec.sqls) != 2 {
		t.Fatalf("inserts = %d, want 2", len(rec.sqls))
	}
	if !strings.Contains(rec.sqls[0], "journal_trades") {
		t.Fatalf("first insert targets %q", rec.sqls[0])
	}
	if got := rec.args[0]["order_id"]; got != "o1" {
		t.Fatalf("order_id = %v", got)
	}
	if got := rec.args[0]["volume"]; got != int64(2) {
		t.Fatalf("volume = %v", got)
	}
	if !strings.Contains(rec.sqls[1], "journal_accounts") {
		t.Fatalf("second insert targets %q", rec.sqls[1])
	}
	if got := rec.args[1]["instrument"]; got != "rb2501" {
		t.Fatalf("instrument = %v", got)
	}
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	w := newWriterWithExec((&recordedExec{}).exec)
	w.Start(context.Background())
	w.Close()
	w.Close()
}

func TestWriter_NilPayloadIgnored(t *testing.T) {
	rec := &recordedExec{}
	w := newWriterWithExec(rec.exec)
	w.Start(context.Background())
	w.OnNotification(schema.Notification{Kind: schema.KindTrade, Instrument: "rb2501"})
	w.Close()

	if len(rec.sqls) != 0 {
		t.Fatalf("inserts = %d, want 0", len(rec.sqls))
	}
}
