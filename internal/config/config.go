// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentSpec describes one upstream agent endpoint to register at startup.
// Parsed from ALPHAHUNT_AGENTS entries of the form
// key=kind|url[|slot[|price]], comma-separated.
type AgentSpec struct {
	Key   string
	Kind  string
	URL   string
	Slot  string  // rival group; empty means no rivals
	Price float64 // relative cost used to break rival ties
}

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Persistence.
	DataDir       string
	FlushInterval time.Duration
	ArchivePath   string // SQLite round archive; empty disables archiving.

	// Agent orchestration.
	Agents           []AgentSpec
	AgentCallTimeout time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel            string
	RateLimitPerMinute  int // per-client request budget; 0 disables limiting
	EventBufferSize     int // per-subscriber SSE buffer
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
// Invalid values are collected and reported together so an operator fixes one
// deploy, not one variable per deploy.
func Load() (Config, error) {
	var errs []error

	port, err := envInt("ALPHAHUNT_PORT", 8080)
	errs = append(errs, err)
	readTimeout, err := envDuration("ALPHAHUNT_READ_TIMEOUT", 30*time.Second)
	errs = append(errs, err)
	writeTimeout, err := envDuration("ALPHAHUNT_WRITE_TIMEOUT", 60*time.Second)
	errs = append(errs, err)
	shutdownTimeout, err := envDuration("ALPHAHUNT_SHUTDOWN_TIMEOUT", 10*time.Second)
	errs = append(errs, err)
	flushInterval, err := envDuration("ALPHAHUNT_FLUSH_INTERVAL", 5*time.Second)
	errs = append(errs, err)
	callTimeout, err := envDuration("ALPHAHUNT_AGENT_CALL_TIMEOUT", 5*time.Second)
	errs = append(errs, err)
	rateLimit, err := envInt("ALPHAHUNT_RATE_LIMIT_PER_MINUTE", 120)
	errs = append(errs, err)
	eventBuffer, err := envInt("ALPHAHUNT_EVENT_BUFFER_SIZE", 64)
	errs = append(errs, err)
	maxBody, err := envInt("ALPHAHUNT_MAX_REQUEST_BODY_BYTES", 1*1024*1024)
	errs = append(errs, err)
	agents, err := parseAgents(os.Getenv("ALPHAHUNT_AGENTS"))
	errs = append(errs, err)

	cfg := Config{
		Port:                port,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		ShutdownTimeout:     shutdownTimeout,
		DataDir:             envStr("ALPHAHUNT_DATA_DIR", "./data"),
		FlushInterval:       flushInterval,
		ArchivePath:         envStr("ALPHAHUNT_ARCHIVE_PATH", ""),
		Agents:              agents,
		AgentCallTimeout:    callTimeout,
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "alphahunt"),
		LogLevel:            envStr("ALPHAHUNT_LOG_LEVEL", "info"),
		RateLimitPerMinute:  rateLimit,
		EventBufferSize:     eventBuffer,
		MaxRequestBodyBytes: int64(maxBody),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable together.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: ALPHAHUNT_PORT must be in (0, 65535], got %d", c.Port)
	}
	if c.DataDir == "" {
		return errors.New("config: ALPHAHUNT_DATA_DIR is required")
	}
	if c.FlushInterval <= 0 {
		return errors.New("config: ALPHAHUNT_FLUSH_INTERVAL must be positive")
	}
	if c.AgentCallTimeout <= 0 {
		return errors.New("config: ALPHAHUNT_AGENT_CALL_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return errors.New("config: ALPHAHUNT_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("config: ALPHAHUNT_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// parseAgents parses the ALPHAHUNT_AGENTS entry list. An empty value is valid:
// agents can also be registered through the API of an embedding process.
func parseAgents(raw string) ([]AgentSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var specs []AgentSpec
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf(`ALPHAHUNT_AGENTS entry %q is not of the form key=kind|url`, entry)
		}

		parts := strings.Split(rest, "|")
		if len(parts) < 2 {
			return nil, fmt.Errorf(`ALPHAHUNT_AGENTS entry %q is missing kind or url`, entry)
		}
		spec := AgentSpec{
			Key:   strings.TrimSpace(key),
			Kind:  strings.TrimSpace(parts[0]),
			URL:   strings.TrimSpace(parts[1]),
			Price: 1,
		}
		if len(parts) > 2 {
			spec.Slot = strings.TrimSpace(parts[2])
		}
		if len(parts) > 3 {
			price, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
			if err != nil || price <= 0 {
				return nil, fmt.Errorf(`ALPHAHUNT_AGENTS entry %q has invalid price %q`, entry, parts[3])
			}
			spec.Price = price
		}
		if spec.URL == "" {
			return nil, fmt.Errorf(`ALPHAHUNT_AGENTS entry %q has an empty url`, entry)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
