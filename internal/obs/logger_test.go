package obs

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	l := StdLogger{L: log.New(&buf, "", 0)}

	l.Error("submit failed", Str("instrument", "rb2501"), Err(errors.New("venue down")))

	out := buf.String()
	for _, want := range []string{"ERROR submit failed", "instrument=rb2501", `error="venue down"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestStdLoggerQuietSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	l := StdLogger{L: log.New(&buf, "", 0), Quiet: true}

	l.Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("quiet logger wrote %q", buf.String())
	}
	l.Info("still audible")
	if !strings.Contains(buf.String(), "INFO still audible") {
		t.Fatalf("info suppressed: %q", buf.String())
	}
}

func TestSetLoggerNilFallsBackToNop(t *testing.T) {
	SetLogger(nil)
	if Log() == nil {
		t.Fatal("global logger must never be nil")
	}
	Log().Error("goes nowhere")
}
