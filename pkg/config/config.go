package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds endpoint configuration.
type Config struct {
	Side             string
	ManifestPath     string
	LogLevel         string
	BatchConcurrency int
	RateLimitRPS     float64
	RateLimitBurst   int
	HistoryDSN       string
	Transport        string
	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	side := os.Getenv("DUPLEX_SIDE")
	if side == "" {
		side = "backend"
	}

	manifest := os.Getenv("DUPLEX_MANIFEST")
	if manifest == "" {
		manifest = "actions.yaml"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	transport := os.Getenv("DUPLEX_TRANSPORT")
	if transport == "" {
		transport = "loopback"
	}

	otlp := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		Side:             side,
		ManifestPath:     manifest,
		LogLevel:         logLevel,
		BatchConcurrency: envInt("DUPLEX_BATCH_CONCURRENCY", 0),
		RateLimitRPS:     envFloat("DUPLEX_RATE_LIMIT_RPS", 0),
		RateLimitBurst:   envInt("DUPLEX_RATE_LIMIT_BURST", 1),
		HistoryDSN:       os.Getenv("DUPLEX_HISTORY_DSN"),
		Transport:        transport,
		OTLPEndpoint:     otlp,
		TelemetryEnabled: os.Getenv("DUPLEX_TELEMETRY_ENABLED") == "true",
	}
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
