package logging

import (
	"log/slog"
	"testing"

	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewAndWith(t *testing.T) {
	log := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}, "1.0")
	if log == nil || log.Logger == nil {
		t.Fatal("New() returned a nil logger")
	}

	child := log.With("source", "adapter")
	if child == nil || child.Logger == nil {
		t.Fatal("With() returned a nil logger")
	}

	if Default() == nil {
		t.Fatal("Default() returned nil")
	}
}
