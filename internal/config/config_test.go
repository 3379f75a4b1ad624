package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.ArchivePath != "" {
		t.Fatalf("archive should be disabled by default, got %q", cfg.ArchivePath)
	}
	if len(cfg.Agents) != 0 {
		t.Fatalf("expected no agents by default, got %d", len(cfg.Agents))
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("ALPHAHUNT_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid ALPHAHUNT_PORT")
	}
	if got := err.Error(); !strings.Contains(got, "ALPHAHUNT_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention ALPHAHUNT_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadCollectsMultipleInvalid(t *testing.T) {
	t.Setenv("ALPHAHUNT_PORT", "abc")
	t.Setenv("ALPHAHUNT_FLUSH_INTERVAL", "sometimes")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "ALPHAHUNT_PORT") {
		t.Fatalf("error should mention ALPHAHUNT_PORT, got: %s", got)
	}
	if !strings.Contains(got, "ALPHAHUNT_FLUSH_INTERVAL") {
		t.Fatalf("error should mention ALPHAHUNT_FLUSH_INTERVAL, got: %s", got)
	}
}

func TestLoadFailsOnPortOutOfRange(t *testing.T) {
	t.Setenv("ALPHAHUNT_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject out-of-range port")
	}
}

func TestParseAgents(t *testing.T) {
	specs, err := parseAgents("mkt=market|http://mkt:9000/hunt|pricing|2.5, news=news|http://news:9001/hunt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	first := specs[0]
	if first.Key != "mkt" || first.Kind != "market" || first.URL != "http://mkt:9000/hunt" {
		t.Fatalf("unexpected first spec: %+v", first)
	}
	if first.Slot != "pricing" || first.Price != 2.5 {
		t.Fatalf("expected slot and price parsed, got %+v", first)
	}
	if specs[1].Slot != "" || specs[1].Price != 1 {
		t.Fatalf("expected defaults for second spec, got %+v", specs[1])
	}
}

func TestParseAgentsEmpty(t *testing.T) {
	specs, err := parseAgents("   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if specs != nil {
		t.Fatalf("expected nil specs, got %+v", specs)
	}
}

func TestParseAgentsInvalid(t *testing.T) {
	cases := []string{
		"no-equals-sign",
		"key=market",                 // missing url
		"key=market|http://x|s|free", // bad price
		"key=market| |",              // empty url
	}
	for _, raw := range cases {
		if _, err := parseAgents(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
