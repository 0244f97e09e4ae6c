package evolution

import (
	"strings"
	"time"

	"github.com/lynkbyte/go-evolution-client/pkg/env"
)

// Policy selects what Attempt does once a rate-limit window is exhausted.
type Policy string

const (
	PolicyWait  Policy = "wait"
	PolicyThrow Policy = "throw"
	PolicySkip  Policy = "skip"
)

// Rate-limit categories. Endpoints map onto one of these; unknown categories
// fall back to the default limits.
const (
	CategoryDefault  = "default"
	CategoryMessages = "messages"
	CategoryMedia    = "media"
)

type HTTPConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	// InsecureSkipVerify disables TLS certificate verification. The zero
	// value verifies, so a profile that never mentions TLS stays safe.
	InsecureSkipVerify bool
}

type RetryConfig struct {
	Enabled              bool
	MaxAttempts          int
	BaseDelay            time.Duration
	RetryableStatusCodes []int
}

type ConnectionConfig struct {
	ServerURL string
	APIKey    string
	HTTP      HTTPConfig
	Retry     RetryConfig
}

type CategoryLimit struct {
	MaxAttempts  int
	DecaySeconds int
}

type RateLimitConfig struct {
	Enabled        bool
	Driver         string // "memory" or "redis"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	OnLimitReached Policy
	Limits         map[string]CategoryLimit
}

type LogConfig struct {
	Enabled         bool
	LogRequests     bool
	LogResponses    bool
	RedactSensitive bool
	SensitiveFields []string
}

// Config is the resolved configuration surface the library consumes. The
// host application builds it once at startup; ConfigFromEnv is the
// env-driven path used by cmd/main.
type Config struct {
	DefaultConnection string
	Connections       map[string]ConnectionConfig
	RateLimit         RateLimitConfig
	Log               LogConfig
}

func defaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:        30 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:              true,
		MaxAttempts:          3,
		BaseDelay:            time.Second,
		RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
	}
}

func defaultCategoryLimits() map[string]CategoryLimit {
	return map[string]CategoryLimit{
		CategoryDefault:  {MaxAttempts: 60, DecaySeconds: 60},
		CategoryMessages: {MaxAttempts: 30, DecaySeconds: 60},
		CategoryMedia:    {MaxAttempts: 10, DecaySeconds: 60},
	}
}

// DefaultConfig returns a Config with every knob at its default and no
// connections declared.
func DefaultConfig() Config {
	return Config{
		DefaultConnection: "default",
		Connections:       map[string]ConnectionConfig{},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			Driver:         "memory",
			OnLimitReached: PolicyWait,
			Limits:         defaultCategoryLimits(),
		},
		Log: LogConfig{
			Enabled:         true,
			LogRequests:     false,
			LogResponses:    false,
			RedactSensitive: true,
			SensitiveFields: []string{"apikey", "api_key", "token", "password", "authorization"},
		},
	}
}

// ConfigFromEnv builds a Config from environment variables. The legacy flat
// shape (EVOLUTION_SERVER_URL + EVOLUTION_API_KEY) maps to the "default"
// connection; additional connections come from EVOLUTION_CONNECTIONS, a
// comma list of names with per-name EVOLUTION_<NAME>_SERVER_URL and
// EVOLUTION_<NAME>_API_KEY variables.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if serverURL, err := env.GetEnvString("EVOLUTION_SERVER_URL"); err == nil {
		cfg.Connections["default"] = ConnectionConfig{
			ServerURL: serverURL,
			APIKey:    env.GetEnvStringOrDefault("EVOLUTION_API_KEY", ""),
			HTTP: HTTPConfig{
				Timeout:            env.GetEnvDurationOrDefault("EVOLUTION_HTTP_TIMEOUT", 30*time.Second),
				ConnectTimeout:     env.GetEnvDurationOrDefault("EVOLUTION_HTTP_CONNECT_TIMEOUT", 10*time.Second),
				InsecureSkipVerify: !env.GetEnvBoolOrDefault("EVOLUTION_HTTP_VERIFY_SSL", true),
			},
			Retry: RetryConfig{
				Enabled:              env.GetEnvBoolOrDefault("EVOLUTION_RETRY_ENABLED", true),
				MaxAttempts:          env.GetEnvIntOrDefault("EVOLUTION_RETRY_MAX_ATTEMPTS", 3),
				BaseDelay:            env.GetEnvDurationOrDefault("EVOLUTION_RETRY_BASE_DELAY", time.Second),
				RetryableStatusCodes: defaultRetryConfig().RetryableStatusCodes,
			},
		}
	}

	for _, name := range env.GetEnvStringSliceOrDefault("EVOLUTION_CONNECTIONS", nil) {
		key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		serverURL, err := env.GetEnvString("EVOLUTION_" + key + "_SERVER_URL")
		if err != nil {
			continue
		}
		cfg.Connections[name] = ConnectionConfig{
			ServerURL: serverURL,
			APIKey:    env.GetEnvStringOrDefault("EVOLUTION_"+key+"_API_KEY", ""),
			HTTP:      defaultHTTPConfig(),
			Retry:     defaultRetryConfig(),
		}
	}

	cfg.RateLimit.Enabled = env.GetEnvBoolOrDefault("EVOLUTION_RATE_LIMIT_ENABLED", true)
	cfg.RateLimit.Driver = env.GetEnvStringOrDefault("EVOLUTION_RATE_LIMIT_DRIVER", "memory")
	cfg.RateLimit.RedisAddr = env.GetEnvStringOrDefault("EVOLUTION_REDIS_ADDR", "127.0.0.1:6379")
	cfg.RateLimit.RedisPassword = env.GetEnvStringOrDefault("EVOLUTION_REDIS_PASSWORD", "")
	cfg.RateLimit.RedisDB = env.GetEnvIntOrDefault("EVOLUTION_REDIS_DB", 0)
	cfg.RateLimit.OnLimitReached = Policy(env.GetEnvStringOrDefault("EVOLUTION_RATE_LIMIT_POLICY", string(PolicyWait)))

	for _, category := range []string{CategoryDefault, CategoryMessages, CategoryMedia} {
		key := strings.ToUpper(category)
		limit := cfg.RateLimit.Limits[category]
		limit.MaxAttempts = env.GetEnvIntOrDefault("EVOLUTION_RATE_LIMIT_"+key+"_MAX_ATTEMPTS", limit.MaxAttempts)
		limit.DecaySeconds = env.GetEnvIntOrDefault("EVOLUTION_RATE_LIMIT_"+key+"_DECAY_SECONDS", limit.DecaySeconds)
		cfg.RateLimit.Limits[category] = limit
	}

	cfg.Log.Enabled = env.GetEnvBoolOrDefault("EVOLUTION_LOG_ENABLED", true)
	cfg.Log.LogRequests = env.GetEnvBoolOrDefault("EVOLUTION_LOG_REQUESTS", false)
	cfg.Log.LogResponses = env.GetEnvBoolOrDefault("EVOLUTION_LOG_RESPONSES", false)
	cfg.Log.RedactSensitive = env.GetEnvBoolOrDefault("EVOLUTION_LOG_REDACT_SENSITIVE", true)
	cfg.Log.SensitiveFields = env.GetEnvStringSliceOrDefault("EVOLUTION_LOG_SENSITIVE_FIELDS", cfg.Log.SensitiveFields)

	return cfg
}
