package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestTextFormatter(t *testing.T) {
	formatter := &TextFormatter{}

	logger := logrus.New()
	entry := logger.WithField("component", "sessions").WithField("sessionId", "abc")
	entry.Time = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	entry.Level = logrus.InfoLevel
	entry.Message = "session created"

	out, err := formatter.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	got := string(out)
	if !strings.Contains(got, "2026-01-15 10:30:00") {
		t.Errorf("expected timestamp in output, got: %s", got)
	}
	if !strings.Contains(got, "[INFO]") {
		t.Errorf("expected level in output, got: %s", got)
	}
	if !strings.Contains(got, "session created") {
		t.Errorf("expected message in output, got: %s", got)
	}
	if !strings.Contains(got, "sessionId=abc") {
		t.Errorf("expected field in output, got: %s", got)
	}
}

func TestTextFormatterWarnLevel(t *testing.T) {
	formatter := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}

	logger := logrus.New()
	entry := logrus.NewEntry(logger)
	entry.Level = logrus.WarnLevel
	entry.Message = "backlog full"

	out, err := formatter.Format(entry)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	if !strings.Contains(string(out), "[WARN]") {
		t.Errorf("expected [WARN] (not [WARNING]), got: %s", out)
	}
}

func TestNewLoggerCaching(t *testing.T) {
	Configure(Config{Level: "debug"})

	a := NewLogger("test-component")
	b := NewLogger("test-component")
	if a != b {
		t.Error("NewLogger should return the cached entry for the same component")
	}
	if a.Data["component"] != "test-component" {
		t.Errorf("expected component field, got %v", a.Data["component"])
	}
	if a.Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level from Configure, got %v", a.Logger.GetLevel())
	}
}
