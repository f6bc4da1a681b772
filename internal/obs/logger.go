// Package obs defines shared logging and metric primitives.
package obs

import (
	"fmt"
	"log"
	"strconv"
	"strings"
)

// Field is one key/value attribute attached to a log line.
type Field struct {
	Key   string
	Value any
}

// Str builds a string-valued field.
func Str(key, value string) Field { return Field{Key: key, Value: value} }

// Err builds the conventional error field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger is the minimal leveled surface the engine logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

var active Logger = nopLogger{}

// SetLogger installs the process-wide logger. A nil logger silences output.
func SetLogger(l Logger) {
	if l == nil {
		active = nopLogger{}
		return
	}
	active = l
}

// Log returns the installed logger.
func Log() Logger { return active }

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

// StdLogger writes leveled key=value lines through a standard library logger.
type StdLogger struct {
	L     *log.Logger
	Quiet bool
}

// Debug implements Logger; suppressed when Quiet.
func (s StdLogger) Debug(msg string, fields ...Field) {
	if s.Quiet {
		return
	}
	s.line("DEBUG", msg, fields)
}

// Info implements Logger.
func (s StdLogger) Info(msg string, fields ...Field) { s.line("INFO", msg, fields) }

// Error implements Logger.
func (s StdLogger) Error(msg string, fields ...Field) { s.line("ERROR", msg, fields) }

func (s StdLogger) line(level, msg string, fields []Field) {
	if s.L == nil {
		return
	}
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(f.Value))
	}
	s.L.Print(b.String())
}

// formatValue quotes values that would break key=value scanning.
func formatValue(v any) string {
	var raw string
	switch val := v.(type) {
	case string:
		raw = val
	case error:
		raw = val.Error()
	case fmt.Stringer:
		raw = val.String()
	default:
		raw = fmt.Sprint(val)
	}
	if strings.ContainsAny(raw, " \t\"") {
		return strconv.Quote(raw)
	}
	return raw
}
