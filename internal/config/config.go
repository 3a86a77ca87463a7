package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/antoniostano/jarvis/internal/protocol"
)

// DefaultSystemInstruction is the assistant persona used when none is configured.
const DefaultSystemInstruction = "You are J.A.R.V.I.S, a sophisticated AI assistant. Your tone is calm, British, robotic, and concise. You address the user as 'Sir'. You are helpful but dry. Keep responses short. Do not use markdown."

// Config contains all runtime settings for the relay service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	WSReadLimit      int64

	// GeminiAPIKey is the raw secret. It is normalized by the credential
	// resolver, never here.
	GeminiAPIKey string

	UpstreamHost        string
	UpstreamProtocol    string
	UpstreamDialTimeout time.Duration

	Model              string
	Voice              string
	ResponseModalities []string
	SystemInstruction  string

	// KickstartEnabled is nil when the variant default applies.
	KickstartEnabled *bool
	KickstartText    string
	KickstartDelay   time.Duration

	SessionFailureLinger time.Duration

	DatabaseURL      string
	JournalRetention int

	LogLevel string
	LogFile  string
}

// Load reads environment variables (after an optional .env file) and applies
// safe defaults.
func Load(envFiles ...string) (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	cfg := Config{
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "jarvis"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		UpstreamHost:         envOrDefault("UPSTREAM_HOST", "generativelanguage.googleapis.com"),
		UpstreamProtocol:     envOrDefault("UPSTREAM_PROTOCOL", protocol.VariantV1BetaSnake),
		Model:                envOrDefault("GEMINI_MODEL", "models/gemini-2.0-flash-exp"),
		Voice:                envOrDefault("GEMINI_VOICE", "Kore"),
		ResponseModalities:   splitList(envOrDefault("GEMINI_RESPONSE_MODALITIES", "AUDIO")),
		SystemInstruction:    envOrDefault("SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		KickstartText:        envOrDefault("KICKSTART_TEXT", "Hello"),
		KickstartDelay:       500 * time.Millisecond,
		SessionFailureLinger: 10 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		WSReadLimit:          2 << 20,
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		JournalRetention:     200,
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFile:              stringsTrimSpace("LOG_FILE"),
	}

	port, err := intFromEnv("PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("PORT must be between 1 and 65535")
	}
	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", net.JoinHostPort("", strconv.Itoa(port)))

	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamDialTimeout, err = durationFromEnv("UPSTREAM_DIAL_TIMEOUT", cfg.UpstreamDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.KickstartDelay, err = durationFromEnv("KICKSTART_DELAY", cfg.KickstartDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionFailureLinger, err = durationFromEnv("SESSION_FAILURE_LINGER", cfg.SessionFailureLinger)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.JournalRetention, err = intFromEnv("JOURNAL_RETENTION", cfg.JournalRetention)
	if err != nil {
		return Config{}, err
	}
	readLimit, err := intFromEnv("WS_READ_LIMIT", int(cfg.WSReadLimit))
	if err != nil {
		return Config{}, err
	}
	cfg.WSReadLimit = int64(readLimit)

	if v := stringsTrimSpace("KICKSTART_ENABLED"); v != "" {
		enabled, err := boolFromEnv("KICKSTART_ENABLED", false)
		if err != nil {
			return Config{}, err
		}
		cfg.KickstartEnabled = &enabled
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that may also have been overridden by flags.
func (c Config) Validate() error {
	if _, err := protocol.Lookup(c.UpstreamProtocol); err != nil {
		return fmt.Errorf("UPSTREAM_PROTOCOL: %w", err)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("GEMINI_MODEL must not be empty")
	}
	if len(c.ResponseModalities) == 0 {
		return fmt.Errorf("GEMINI_RESPONSE_MODALITIES must list at least one modality")
	}
	if c.KickstartDelay < 0 {
		return fmt.Errorf("KICKSTART_DELAY must be >= 0")
	}
	if c.SessionFailureLinger < 0 {
		return fmt.Errorf("SESSION_FAILURE_LINGER must be >= 0")
	}
	if c.UpstreamDialTimeout < 0 {
		return fmt.Errorf("UPSTREAM_DIAL_TIMEOUT must be >= 0")
	}
	if c.JournalRetention <= 0 {
		return fmt.Errorf("JOURNAL_RETENTION must be positive")
	}
	if c.WSReadLimit <= 0 {
		return fmt.Errorf("WS_READ_LIMIT must be positive")
	}
	return nil
}

// Variant returns the configured upstream protocol variant.
func (c Config) Variant() (protocol.Variant, error) {
	return protocol.Lookup(c.UpstreamProtocol)
}

// Kickstart reports whether the kickstart turn is sent, falling back to the
// variant default when unset.
func (c Config) Kickstart(v protocol.Variant) bool {
	if c.KickstartEnabled != nil {
		return *c.KickstartEnabled
	}
	return v.Kickstart
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
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

// loadEnvFiles loads the named dotenv files, or .env when none are named. Only
// a missing default .env is tolerated.
func loadEnvFiles(envFiles []string) error {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(envFiles...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}
