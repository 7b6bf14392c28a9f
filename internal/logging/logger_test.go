package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithField("entity", "products").Infof("synced %d items", 5)

	var entry struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry.Level != "info" {
		t.Errorf("level = %q, want info", entry.Level)
	}
	if entry.Message != "synced 5 items" {
		t.Errorf("message = %q, want the formatted text", entry.Message)
	}
	if entry.Fields["entity"] != "products" {
		t.Errorf("fields = %v, want entity=products", entry.Fields)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatJSON)
	logger.SetOutput(&buf)

	logger.Infof("suppressed %d", 1)
	logger.Debug("also suppressed")
	if buf.Len() != 0 {
		t.Fatalf("below-level messages were written: %s", buf.String())
	}

	logger.Warnf("kept %d", 2)
	if !strings.Contains(buf.String(), "kept 2") {
		t.Errorf("warn message missing from output: %s", buf.String())
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatText)
	logger.SetOutput(&buf)

	logger.WithField("key", "value").Warn("something happened")

	line := buf.String()
	if !strings.Contains(line, "warn: something happened") {
		t.Errorf("text line = %q, want level and message", line)
	}
	if !strings.Contains(line, `"key":"value"`) {
		t.Errorf("text line = %q, want appended fields", line)
	}
}

func TestWithErrorNilIsNoop(t *testing.T) {
	logger := NewLogger(LevelInfo, FormatJSON)
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}
