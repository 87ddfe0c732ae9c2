package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, Trace included, with no sampling.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns the recorded entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message equals msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// find returns the entries at level whose message contains substr.
func (t *TestLogger) find(level zapcore.Level, substr string) []observer.LoggedEntry {
	var out []observer.LoggedEntry
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, substr) {
			out = append(out, entry)
		}
	}
	return out
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if len(t.find(level, substr)) == 0 {
		tb.Errorf("no %v entry containing %q among %d entries", level, substr, t.observed.Len())
	}
}

// AssertNotLogged fails tb if any entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if n := len(t.find(level, substr)); n > 0 {
		tb.Errorf("found %d unexpected %v entries containing %q", n, level, substr)
	}
}

// AssertField fails tb unless some entry with message msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertTraceCorrelation fails tb unless an entry with message msg carries
// a trace_id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	t.assertHasKey(tb, msg, "trace_id")
}

// AssertRunCorrelation fails tb unless an entry with message msg carries
// both sync.root and sync.run_id.
func (t *TestLogger) AssertRunCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	t.assertHasKey(tb, msg, "sync.root")
	t.assertHasKey(tb, msg, "sync.run_id")
}

func (t *TestLogger) assertHasKey(tb testing.TB, msg, key string) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if _, ok := entry.ContextMap()[key]; ok {
			return
		}
	}
	tb.Errorf("no %q entry carries %s", msg, key)
}
