// Package errs provides structured condition types shared across the engine.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a condition raised by the execution core.
type Code string

const (
	// CodeInvalidOrderIntent marks a malformed trading call; no state was mutated.
	CodeInvalidOrderIntent Code = "invalid_order_intent"
	// CodeUnsupportedOrderType marks a directive not valid under the current execution mode.
	CodeUnsupportedOrderType Code = "unsupported_order_type"
	// CodeInsufficientHistory marks a read before the configured minimum history.
	CodeInsufficientHistory Code = "insufficient_history"
	// CodeOverClose marks an attempt to close more volume than is held.
	CodeOverClose Code = "over_close"
	// CodeDataIntegrity marks an out-of-order or duplicate bar sequence; fatal to the run.
	CodeDataIntegrity Code = "data_integrity"
	// CodeGatewayRejected marks an order rejected by the paper/live gateway.
	CodeGatewayRejected Code = "gateway_rejected"
	// CodeCancelFailed marks a cancellation the gateway refused.
	CodeCancelFailed Code = "cancel_failed"
	// CodeNotConfirmed marks a gateway operation that timed out awaiting acknowledgement.
	CodeNotConfirmed Code = "not_confirmed"
	// CodeInvalid marks invalid input outside the order path (config, data files).
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable marks a temporarily unreachable collaborator.
	CodeUnavailable Code = "unavailable"
)

// E carries structured condition information through the engine stack.
type E struct {
	Component  string
	Code       Code
	Instrument string
	OrderID    string
	Message    string

	cause error
}

// Option configures a condition envelope.
type Option func(*E)

// New constructs a condition for the component and code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithInstrument records the instrument the condition applies to.
func WithInstrument(instrument string) Option {
	trimmed := strings.TrimSpace(instrument)
	return func(e *E) {
		e.Instrument = trimmed
	}
}

// WithOrderID records the order the condition applies to.
func WithOrderID(id string) Option {
	trimmed := strings.TrimSpace(id)
	return func(e *E) {
		e.OrderID = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Instrument != "" {
		parts = append(parts, "instrument="+e.Instrument)
	}
	if e.OrderID != "" {
		parts = append(parts, "order_id="+e.OrderID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// HasCode reports whether err is an *E carrying the given code.
func HasCode(err error, code Code) bool {
	var e *E
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
