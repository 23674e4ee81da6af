package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for our application
type Config struct {
	DiscordToken  string
	DatabaseDSN   string
	CommandPrefix string
	VoiceTick     time.Duration
	DebugLocks    bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// .env file is optional, continue with environment variables
	}

	config := &Config{
		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		CommandPrefix: getEnv("COMMAND_PREFIX", "!"),
		DebugLocks:    os.Getenv("DEBUG_LOCKS") == "1",
	}

	if config.DiscordToken == "" {
		return nil, &ConfigError{Field: "DISCORD_TOKEN", Message: "DISCORD_TOKEN is required"}
	}

	if config.DatabaseDSN == "" {
		return nil, &ConfigError{Field: "DATABASE_DSN", Message: "DATABASE_DSN is required"}
	}

	seconds, err := getEnvInt("VOICE_TICK_SECONDS", 60)
	if err != nil || seconds <= 0 {
		return nil, &ConfigError{Field: "VOICE_TICK_SECONDS", Message: "VOICE_TICK_SECONDS must be a positive integer"}
	}
	config.VoiceTick = time.Duration(seconds) * time.Second

	return config, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
