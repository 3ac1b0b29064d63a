// Package config reads process settings from a .env file and the
// environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/talgya/hexcity/internal/world"
)

type Config struct {
	Storage   StorageConfig
	World     WorldConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Tuning    string // YAML tuning file path; empty uses defaults
}

type StorageConfig struct {
	DBPath string
}

type WorldConfig struct {
	Seed   int64
	Radius int
	Mode   string
}

type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Debug("could not read .env", "error", err)
	}

	cfg := &Config{
		Storage: StorageConfig{
			DBPath: GetEnv("HEXCITY_DB_PATH", "hexcity.db"),
		},
		World: WorldConfig{
			Seed:   getInt64("HEXCITY_SEED", world.DefaultSeed),
			Radius: getInt("HEXCITY_RADIUS", 20),
			Mode:   GetEnv("HEXCITY_WORLD_MODE", world.ModePRNG),
		},
		Server: ServerConfig{
			Port:        GetEnv("HEXCITY_PORT", "8080"),
			CORSOrigins: splitList(GetEnv("HEXCITY_CORS_ORIGINS", "http://localhost:3000")),
		},
		RateLimit: RateLimitConfig{
			Enabled:           GetEnv("HEXCITY_RATE_LIMIT", "true") == "true",
			RequestsPerSecond: getFloat("HEXCITY_RATE_RPS", 20),
			BurstSize:         getInt("HEXCITY_RATE_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "text"),
		},
		Tuning: GetEnv("HEXCITY_TUNING", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("HEXCITY_DB_PATH is required")
	}
	if c.World.Radius < 0 {
		return fmt.Errorf("HEXCITY_RADIUS must not be negative")
	}
	if c.World.Mode != world.ModePRNG && c.World.Mode != world.ModeNoise {
		return fmt.Errorf("HEXCITY_WORLD_MODE must be %q or %q", world.ModePRNG, world.ModeNoise)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize < 1) {
		return fmt.Errorf("rate limit needs positive HEXCITY_RATE_RPS and HEXCITY_RATE_BURST")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// GetEnv returns the variable or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(GetEnv(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(GetEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
