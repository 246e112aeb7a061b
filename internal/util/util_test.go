package util

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("case")
	if !strings.HasPrefix(id, "case_") {
		t.Fatalf("expected case_ prefix, got %q", id)
	}
	if len(id) != len("case_")+32 {
		t.Fatalf("unexpected id length %d", len(id))
	}
	if NewID("case") == id {
		t.Fatal("expected unique ids")
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("expected bare id without prefix separator")
	}
}

func TestNewTokenIsLongerThanIDs(t *testing.T) {
	token := NewToken("rft")
	if !strings.HasPrefix(token, "rft_") || len(token) != len("rft_")+64 {
		t.Fatalf("unexpected token %q", token)
	}
	if got := RandomHex(3); len(got) != 6 {
		t.Fatalf("expected 6 hex chars, got %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestLoggerFallsBackToDefault(t *testing.T) {
	if Logger(context.Background()) != slog.Default() {
		t.Fatal("expected default logger")
	}
	custom := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	ctx := ContextWithLogger(context.Background(), custom)
	if Logger(ctx) != custom {
		t.Fatal("expected context logger")
	}
}
