package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/config"
)

func TestNewWithWriter_JSONRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "1.2.3", &buf)

	logger.Info("link connected", "endpoint", "192.168.1.12")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "link connected" {
		t.Errorf("msg = %v, want %q", record["msg"], "link connected")
	}
	if record["service"] != "sastrend" {
		t.Errorf("service = %v, want %q", record["service"], "sastrend")
	}
	if record["version"] != "1.2.3" {
		t.Errorf("version = %v, want %q", record["version"], "1.2.3")
	}
	if record["endpoint"] != "192.168.1.12" {
		t.Errorf("endpoint = %v, want %q", record["endpoint"], "192.168.1.12")
	}
}

func TestNewWithWriter_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "dev", &buf)

	logger.Debug("probe sent")

	out := buf.String()
	if !strings.Contains(out, "probe sent") {
		t.Errorf("output %q missing message", out)
	}
	if !strings.Contains(out, "service=sastrend") {
		t.Errorf("output %q missing service attribute", out)
	}
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "warn", Format: "json"}, "dev", &buf)

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record written below warn level: %q", buf.String())
	}

	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("warn record not written at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", &buf)

	child := logger.With("component", "mqtt")
	if child == logger {
		t.Fatal("With returned the parent logger")
	}

	child.Info("publishing")
	if !strings.Contains(buf.String(), `"component":"mqtt"`) {
		t.Errorf("child record %q missing component attribute", buf.String())
	}

	// The parent must not inherit the child's attributes.
	buf.Reset()
	logger.Info("plain")
	if strings.Contains(buf.String(), "component") {
		t.Errorf("parent record %q carries child attribute", buf.String())
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("expected non-nil default logger")
	}
}
