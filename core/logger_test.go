package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestLeveledLoggerFiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLeveledLogger(&buf, LevelWarn)

	logger.Debug("policy updated")
	logger.Info("idle period started")
	if buf.Len() != 0 {
		t.Fatalf("messages below min level must be dropped, got %q", buf.String())
	}

	logger.Warn("queue starving")
	logger.Error("task panicked")
	out := buf.String()
	if !strings.Contains(out, "[WARN] queue starving") {
		t.Fatalf("warn line missing from %q", out)
	}
	if !strings.Contains(out, "[ERROR] task panicked") {
		t.Fatalf("error line missing from %q", out)
	}
}

func TestLeveledLoggerWritesPrefixAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLeveledLogger(&buf, LevelDebug)

	logger.Debug("policy updated", F("use_case", "touchstart"), F("timer", "disabled"))

	out := buf.String()
	if !strings.Contains(out, "sched: ") {
		t.Fatalf("prefix missing from %q", out)
	}
	if !strings.Contains(out, "{use_case: touchstart, timer: disabled}") {
		t.Fatalf("fields missing from %q", out)
	}
}

func TestNewDefaultLoggerKeepsDebugEnabled(t *testing.T) {
	logger := NewDefaultLogger()
	if logger.minLevel != LevelDebug {
		t.Fatalf("default min level %v, want %v", logger.minLevel, LevelDebug)
	}
}
