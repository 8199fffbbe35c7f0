package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "debug", Format: FormatJSON, Output: &buf})

	log.Component("lock").Info().Str("document_id", "D").Msg("acquired")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "docvault" {
		t.Errorf("expected service=docvault, got %v", entry["service"])
	}
	if entry["component"] != "lock" {
		t.Errorf("expected component=lock, got %v", entry["component"])
	}
	if entry["message"] != "acquired" {
		t.Errorf("expected message=acquired, got %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "warn", Format: FormatJSON, Output: &buf})

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %s", buf.String())
	}
	log.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Fatal("warn should be written at warn level")
	}
}

func TestLogOperationError(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(Config{Level: "info", Format: FormatJSON, Output: &buf})

	log.LogOperation("create_version", "D", 5*time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Fatalf("successful operation should log at debug, got %s", buf.String())
	}

	log.LogOperation("create_version", "D", 5*time.Millisecond, errors.New("disk full"))
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["level"] != "error" || entry["error"] != "disk full" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestAutoFormatOnBufferIsJSON(t *testing.T) {
	var buf bytes.Buffer
	if IsTerminal(&buf) {
		t.Fatal("a buffer is never a terminal")
	}
	NewLogger(Config{Format: FormatAuto, Output: &buf}).Info().Msg("x")
	if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("auto format on a non-terminal should be JSON, got %s", buf.String())
	}
}

func TestNop(t *testing.T) {
	// Must not panic
	Nop().Error().Msg("discarded")
	Nop().LogOperation("x", "y", 0, errors.New("z"))
}
