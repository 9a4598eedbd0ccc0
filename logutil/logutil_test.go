package logutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "tensor decoded", "name", "lora_up.weight")

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("missing TRACE label: %s", out)
	}
	if !strings.Contains(out, "source=logutil_test.go:") {
		t.Errorf("source not shortened: %s", out)
	}
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace+4)
	logger.Log(t.Context(), LevelTrace, "hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
