package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesAllFields(t *testing.T) {
	err := New(
		"engine",
		CodeOverClose,
		WithInstrument("rb2505"),
		WithOrderID("ord-42"),
		WithMessage("close volume 5 exceeds held 3"),
		WithCause(errors.New("ledger rejected trade")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=engine") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=over_close") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "instrument=rb2505") {
		t.Fatalf("expected instrument in error string: %s", out)
	}
	if !strings.Contains(out, "order_id=ord-42") {
		t.Fatalf("expected order id in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"ledger rejected trade\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("market", CodeDataIntegrity, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach cause")
	}
}

func TestHasCodeMatchesWrappedConditions(t *testing.T) {
	err := fmt.Errorf("submit: %w", New("engine", CodeInvalidOrderIntent))
	if !HasCode(err, CodeInvalidOrderIntent) {
		t.Fatalf("expected HasCode to match wrapped condition")
	}
	if HasCode(err, CodeOverClose) {
		t.Fatalf("unexpected code match")
	}
	if HasCode(errors.New("plain"), CodeOverClose) {
		t.Fatalf("plain errors must not match")
	}
}
