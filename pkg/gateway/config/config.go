package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// APIKeys holds the gateway's accepted bearer keys. Kept as a slice so
	// the auth middleware can scan them with constant-time compares.
	APIKeys []string

	// Upstream realtime/responses API the gateway fronts. The server-held
	// key never leaves this process.
	UpstreamBaseURL string
	UpstreamAPIKey  string

	// Defaults applied to session mint requests that omit them.
	DefaultModel string
	DefaultVoice string

	MaxBodyBytes int64

	// AccessLog toggles the request log middleware.
	AccessLog bool

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// In-memory limits (per key).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Upstream HTTP client defaults
	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration

	// DatabaseURL, when set, enables the usage archive.
	DatabaseURL string
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          envOr("PARLANCE_PROXY_ADDR", ":8090"),
		AuthMode:                      AuthMode(envOr("PARLANCE_PROXY_AUTH_MODE", string(AuthModeRequired))),
		UpstreamBaseURL:               envOr("PARLANCE_UPSTREAM_BASE_URL", "https://api.openai.com/v1"),
		UpstreamAPIKey:                strings.TrimSpace(os.Getenv("PARLANCE_UPSTREAM_API_KEY")),
		DefaultModel:                  envOr("PARLANCE_DEFAULT_MODEL", "gpt-4o-realtime-preview"),
		DefaultVoice:                  envOr("PARLANCE_DEFAULT_VOICE", "sage"),
		MaxBodyBytes:                  envInt64Or("PARLANCE_PROXY_MAX_BODY_BYTES", 1<<20), // 1 MiB
		AccessLog:                     envBoolOr("PARLANCE_PROXY_ACCESS_LOG", true),
		CORSAllowedOrigins:            make(map[string]struct{}),
		LimitRPS:                      envFloat64Or("PARLANCE_PROXY_RATE_LIMIT_RPS", 2.0),
		LimitBurst:                    envIntOr("PARLANCE_PROXY_RATE_LIMIT_BURST", 4),
		LimitMaxConcurrentRequests:    envIntOr("PARLANCE_PROXY_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:             envDurationOr("PARLANCE_PROXY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                   envDurationOr("PARLANCE_PROXY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:           envDurationOr("PARLANCE_PROXY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		UpstreamConnectTimeout:        envDurationOr("PARLANCE_PROXY_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("PARLANCE_PROXY_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		DatabaseURL:                   strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("PARLANCE_PROXY_AUTH_MODE must be one of required|disabled")
	}

	cfg.APIKeys = splitCSV(os.Getenv("PARLANCE_PROXY_API_KEYS"))

	for _, origin := range splitCSV(os.Getenv("PARLANCE_PROXY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.UpstreamBaseURL) == "" {
		return Config{}, fmt.Errorf("PARLANCE_UPSTREAM_BASE_URL must not be empty")
	}
	if cfg.UpstreamAPIKey == "" {
		return Config{}, fmt.Errorf("PARLANCE_UPSTREAM_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("PARLANCE_DEFAULT_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_MAX_CONCURRENT_REQUESTS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_RESPONSE_HEADER_TIMEOUT must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("PARLANCE_PROXY_API_KEYS must be set when PARLANCE_PROXY_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
