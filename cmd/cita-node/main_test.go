package main

import (
	"log/slog"
	"testing"

	"github.com/citahub/cita-sub002/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewAppRegistersConfigFlags(t *testing.T) {
	app := newApp()
	if app.Name != "cita-node" {
		t.Fatalf("app name = %q, want cita-node", app.Name)
	}
	names := make(map[string]bool)
	for _, f := range app.Flags {
		for _, n := range f.Names() {
			names[n] = true
		}
	}
	for _, want := range []string{"datadir", "check-permission", "metrics", "metrics-addr", "log-level"} {
		if !names[want] {
			t.Fatalf("app flags missing %q", want)
		}
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}
