// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"sync"
	"time"

	"github.com/raysh454/reconcile/internal/logging"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
	Fields map[string][]logging.Field
}

func (l *DummyLogger) record(dst *[]string, msg string, fields []logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*dst = append(*dst, msg)
	if len(fields) > 0 {
		if l.Fields == nil {
			l.Fields = make(map[string][]logging.Field)
		}
		l.Fields[msg] = append(l.Fields[msg], fields...)
	}
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) { l.record(&l.Debugs, msg, fields) }
func (l *DummyLogger) Info(msg string, fields ...logging.Field)  { l.record(&l.Infos, msg, fields) }
func (l *DummyLogger) Warn(msg string, fields ...logging.Field)  { l.record(&l.Warns, msg, fields) }
func (l *DummyLogger) Error(msg string, fields ...logging.Field) { l.record(&l.Errors, msg, fields) }

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorCount returns the number of recorded error messages.
func (l *DummyLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// HasInfo reports whether msg was logged at info level.
func (l *DummyLogger) HasInfo(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Infos {
		if m == msg {
			return true
		}
	}
	return false
}

// ─── Clock ─────────────────────────────────────────────────────────────

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a Clock at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
