package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	DatabaseURL       string
	RedisURL          string
	RedisRelayChannel string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	PasswordHashCost int

	// CommentPermission is the level required to comment on a task: "view" or "edit".
	CommentPermission string

	WSWriteTimeout   time.Duration
	WSPongTimeout    time.Duration
	WSOutboundBuffer int

	// WSIdleTimeout closes sockets that sent neither frames nor pongs for this long.
	WSIdleTimeout time.Duration

	TasksPageSize    int
	TasksMaxPageSize int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "taskhub"),
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("APP_LOG_FORMAT", "text"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RedisURL:          stringsTrimSpace("REDIS_URL"),
		RedisRelayChannel: envOrDefault("REDIS_RELAY_CHANNEL", "taskhub:events"),
		JWTSecret:         stringsTrimSpace("JWT_SECRET"),
		JWTIssuer:         envOrDefault("JWT_ISSUER", "taskhub"),
		CommentPermission: strings.ToLower(envOrDefault("COMMENT_PERMISSION", "view")),
		ShutdownTimeout:   15 * time.Second,
		JWTTTL:            7 * 24 * time.Hour,
		PasswordHashCost:  10,
		WSWriteTimeout:    10 * time.Second,
		WSPongTimeout:     60 * time.Second,
		WSOutboundBuffer:  256,
		WSIdleTimeout:     2 * time.Minute,
		TasksPageSize:     20,
		TasksMaxPageSize:  100,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.JWTTTL, err = durationFromEnv("JWT_TTL", cfg.JWTTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.PasswordHashCost, err = intFromEnv("PASSWORD_HASH_COST", cfg.PasswordHashCost)
	if err != nil {
		return Config{}, err
	}
	cfg.WSWriteTimeout, err = durationFromEnv("WS_WRITE_TIMEOUT", cfg.WSWriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSPongTimeout, err = durationFromEnv("WS_PONG_TIMEOUT", cfg.WSPongTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WSOutboundBuffer, err = intFromEnv("WS_OUTBOUND_BUFFER", cfg.WSOutboundBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.WSIdleTimeout, err = durationFromEnv("WS_IDLE_TIMEOUT", cfg.WSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TasksPageSize, err = intFromEnv("TASKS_PAGE_SIZE", cfg.TasksPageSize)
	if err != nil {
		return Config{}, err
	}
	cfg.TasksMaxPageSize, err = intFromEnv("TASKS_MAX_PAGE_SIZE", cfg.TasksMaxPageSize)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Load calls it; tests building a
// Config by hand may call it directly.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.JWTTTL < time.Minute {
		return fmt.Errorf("JWT_TTL must be at least 1m")
	}
	if c.PasswordHashCost < 4 || c.PasswordHashCost > 31 {
		return fmt.Errorf("PASSWORD_HASH_COST must be between 4 and 31")
	}
	switch c.CommentPermission {
	case "view", "edit":
	default:
		return fmt.Errorf("invalid COMMENT_PERMISSION: %q (expected view|edit)", c.CommentPermission)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid APP_LOG_FORMAT: %q (expected text|json)", c.LogFormat)
	}
	if c.WSWriteTimeout <= 0 || c.WSPongTimeout <= 0 {
		return fmt.Errorf("WS_WRITE_TIMEOUT and WS_PONG_TIMEOUT must be positive")
	}
	if c.WSIdleTimeout < c.WSPongTimeout {
		return fmt.Errorf("WS_IDLE_TIMEOUT must not be shorter than WS_PONG_TIMEOUT")
	}
	if c.WSOutboundBuffer <= 0 {
		return fmt.Errorf("WS_OUTBOUND_BUFFER must be positive")
	}
	if c.TasksPageSize <= 0 || c.TasksMaxPageSize < c.TasksPageSize {
		return fmt.Errorf("TASKS_PAGE_SIZE must be positive and not exceed TASKS_MAX_PAGE_SIZE")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
