package logging

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry at every level.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a recording logger. Entries are kept unencoded, so
// redaction is not applied; AssertNoSecrets checks what a field would
// print as.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{
		Logger: &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		logs:   logs,
	}
}

// Entries returns everything logged so far.
func (t *TestLogger) Entries() []observer.LoggedEntry {
	return t.logs.All()
}

// FilterMessage returns the entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(msg)
}

// Reset drops the recorded entries.
func (t *TestLogger) Reset() {
	t.logs.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.logs.FilterLevelExact(level).FilterMessageSnippet(msg).Len() == 0 {
		tb.Errorf("no %v entry containing %q in %d entries", level, msg, t.logs.Len())
	}
}

// AssertField fails tb unless an entry containing msg carries key with the
// expected value. Correlation ids from the context count as fields.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	var seen []any
	for _, entry := range t.FilterMessage(msg).All() {
		got, ok := entry.ContextMap()[key]
		if !ok {
			continue
		}
		if reflect.DeepEqual(got, expected) || fmt.Sprint(got) == fmt.Sprint(expected) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("entry %q: field %q=%v not found (saw %v)", msg, key, expected, seen)
}

// AssertNoSecrets fails tb when any entry, encoded as JSON, matches a
// default redaction pattern or contains one of the raw values given.
func (t *TestLogger) AssertNoSecrets(tb testing.TB, raw ...string) {
	tb.Helper()
	var patterns []*regexp.Regexp
	for _, p := range NewDefaultConfig().Redaction.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	enc := newEncoder("json")
	for _, entry := range t.logs.All() {
		buf, err := enc.EncodeEntry(entry.Entry, entry.Context)
		if err != nil {
			tb.Fatalf("encoding %q: %v", entry.Message, err)
		}
		line := buf.String()
		buf.Free()
		for _, re := range patterns {
			if re.MatchString(line) {
				tb.Errorf("entry %q matches %s: %s", entry.Message, re, line)
			}
		}
		for _, s := range raw {
			if s != "" && strings.Contains(line, s) {
				tb.Errorf("entry %q leaks %q", entry.Message, s)
			}
		}
	}
}
