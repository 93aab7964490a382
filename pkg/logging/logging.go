// Package logging defines the structured logging interface shared by every
// component, with a stdlib-backed default implementation and an optional
// Loki shipper wired in only when configured.
package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger is implemented by every logging backend. Fields are rendered
// key=value; the fields of a line are whatever the caller passes, and no
// correlation_id field is added by the logger or its callers.
type Logger interface {
	Debug(ctx context.Context, message string, fields map[string]interface{})
	Info(ctx context.Context, message string, fields map[string]interface{})
	Warn(ctx context.Context, message string, fields map[string]interface{})
	Error(ctx context.Context, message string, fields map[string]interface{})
	Health(ctx context.Context) error
	Close() error
}

// StdLogger is the default Logger, used whenever no shipper is configured.
type StdLogger struct {
	component string
	minLevel  Level
	out       *log.Logger
}

var levelRank = map[Level]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// NewStdLogger builds a Logger that writes structured lines to stderr.
func NewStdLogger(component string, minLevel Level) *StdLogger {
	return &StdLogger{
		component: component,
		minLevel:  minLevel,
		out:       log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *StdLogger) log(level Level, message string, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}
	l.out.Println(format(l.component, level, message, fields))
}

func (l *StdLogger) Debug(_ context.Context, message string, fields map[string]interface{}) {
	l.log(LevelDebug, message, fields)
}
func (l *StdLogger) Info(_ context.Context, message string, fields map[string]interface{}) {
	l.log(LevelInfo, message, fields)
}
func (l *StdLogger) Warn(_ context.Context, message string, fields map[string]interface{}) {
	l.log(LevelWarn, message, fields)
}
func (l *StdLogger) Error(_ context.Context, message string, fields map[string]interface{}) {
	l.log(LevelError, message, fields)
}
func (l *StdLogger) Health(context.Context) error { return nil }
func (l *StdLogger) Close() error                 { return nil }

func format(component string, level Level, message string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "level=%s component=%s msg=%q", level, component, message)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	return b.String()
}

// MultiLogger fans a call out to every backend; Close/Health report the
// first error encountered. Used to combine StdLogger with an optional
// shipper without every caller needing to know a shipper exists.
type MultiLogger struct {
	backends []Logger
}

// NewMultiLogger combines backends, skipping any nil entry — the same
// "optional, nil-checked before use" convention the teacher applies to
// auxiliary infra that may or may not be configured.
func NewMultiLogger(backends ...Logger) *MultiLogger {
	nonNil := make([]Logger, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			nonNil = append(nonNil, b)
		}
	}
	return &MultiLogger{backends: nonNil}
}

func (m *MultiLogger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	for _, b := range m.backends {
		b.Debug(ctx, message, fields)
	}
}
func (m *MultiLogger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	for _, b := range m.backends {
		b.Info(ctx, message, fields)
	}
}
func (m *MultiLogger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	for _, b := range m.backends {
		b.Warn(ctx, message, fields)
	}
}
func (m *MultiLogger) Error(ctx context.Context, message string, fields map[string]interface{}) {
	for _, b := range m.backends {
		b.Error(ctx, message, fields)
	}
}
func (m *MultiLogger) Health(ctx context.Context) error {
	for _, b := range m.backends {
		if err := b.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}
func (m *MultiLogger) Close() error {
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			return err
		}
	}
	return nil
}
