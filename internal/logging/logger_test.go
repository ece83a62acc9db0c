package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText {
		t.Error("expected text format")
	}
	if ParseFormat("json") != FormatJSON || ParseFormat("other") != FormatJSON {
		t.Error("expected json as the default format")
	}
}

func decode(t *testing.T, line []byte) Entry {
	t.Helper()
	var e Entry
	if err := json.Unmarshal(line, &e); err != nil {
		t.Fatalf("invalid json %q: %v", line, err)
	}
	return e
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	l.Named("gc").WithCorrelationID("job-1").Infof("run finished", map[string]any{"deleted": 3})

	e := decode(t, buf.Bytes())
	if e.Message != "run finished" || e.Level != "info" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Component != "gc" {
		t.Errorf("component = %q, want gc", e.Component)
	}
	if e.CorrelationID != "job-1" {
		t.Errorf("correlationId = %q, want job-1", e.CorrelationID)
	}
	if e.Fields["deleted"] != float64(3) {
		t.Errorf("fields = %v", e.Fields)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("dropped")
	l.Debugf("dropped", map[string]any{"k": "v"})
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warnf("kept", nil)
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: LevelInfo, Output: &buf})
	child := parent.With(map[string]any{"kind": "release"})

	parent.Info("parent")
	child.Info("child")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if p := decode(t, lines[0]); p.Fields != nil {
		t.Errorf("parent picked up child fields: %v", p.Fields)
	}
	if c := decode(t, lines[1]); c.Fields["kind"] != "release" {
		t.Errorf("child fields = %v", c.Fields)
	}
}

func TestLoggerTextOutputSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	l.Warnf("task failed", map[string]any{
		"task":  "Deleting release a/1",
		"error": errors.New("boom"),
		"count": 2,
	})

	out := buf.String()
	if !strings.Contains(out, "[warn] task failed") {
		t.Errorf("missing level/message: %q", out)
	}
	iCount := strings.Index(out, "count=2")
	iErr := strings.Index(out, "error=boom")
	iTask := strings.Index(out, "task=Deleting release a/1")
	if iCount < 0 || iErr < 0 || iTask < 0 {
		t.Fatalf("missing fields: %q", out)
	}
	if !(iCount < iErr && iErr < iTask) {
		t.Errorf("fields not sorted: %q", out)
	}
}

func TestLoggerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.With(map[string]any{"i": i}).Info("line")
		}(i)
	}
	wg.Wait()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, line := range lines {
		decode(t, line)
	}
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})

	ctx := WithCorrelationIDCtx(context.Background(), "job-42")
	ContextLogger(ctx, base).Info("hello")

	if e := decode(t, buf.Bytes()); e.CorrelationID != "job-42" {
		t.Errorf("correlationId = %q, want job-42", e.CorrelationID)
	}

	buf.Reset()
	ContextLogger(context.Background(), base.WithCorrelationID("job-1")).Info("no id on ctx")
	if e := decode(t, buf.Bytes()); e.CorrelationID != "job-1" {
		t.Errorf("correlationId = %q, want job-1", e.CorrelationID)
	}
}

func TestContextLoggerFallsBackToGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	SetGlobal(New(Config{Level: LevelInfo, Output: &buf}))
	ContextLogger(WithCorrelationIDCtx(context.Background(), "job-7"), nil).Info("global")

	if e := decode(t, buf.Bytes()); e.CorrelationID != "job-7" || e.Message != "global" {
		t.Errorf("unexpected entry %+v", e)
	}
}
