// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the database, the M-Pesa gateway, Redis,
// messaging adapters, rate limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-payments-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	URL    string // DATABASE_URL (postgres) or DB_PATH (sqlite)
	Debug  bool   // DB_DEBUG: log every statement
}

// MpesaConfig holds Daraja credentials and gateway behavior.
type MpesaConfig struct {
	Environment       string        // MPESA_ENVIRONMENT: sandbox|production
	BaseURL           string        // MPESA_BASE_URL overrides Environment
	ConsumerKey       string        // MPESA_CONSUMER_KEY
	ConsumerSecret    string        // MPESA_CONSUMER_SECRET
	ShortCode         string        // MPESA_SHORTCODE
	PassKey           string        // MPESA_PASSKEY
	CallbackURL       string        // MPESA_CALLBACK_URL
	TransactionType   string        // MPESA_TRANSACTION_TYPE
	Timeout           time.Duration // MPESA_TIMEOUT
	TokenSafetyMargin time.Duration // MPESA_TOKEN_SAFETY_MARGIN
	IPWhitelist       []string      // MPESA_IP_WHITELIST (CSV); empty admits all
	CountryCode       string        // MPESA_COUNTRY_CODE for phone normalization
	STKExpiry         time.Duration // MPESA_STK_EXPIRY: pending window
}

// RedisConfig enables the distributed lock and Pub/Sub notifications.
type RedisConfig struct {
	Addr     string        // REDIS_ADDR; empty disables Redis
	Password string        // REDIS_PASSWORD
	DB       int           // REDIS_DB
	TLS      bool          // REDIS_TLS
	LockTTL  time.Duration // REDIS_LOCK_TTL
}

// MessagingConfig configures chat adapters for payment prompts.
type MessagingConfig struct {
	WhatsAppToken         string // WHATSAPP_ACCESS_TOKEN
	WhatsAppPhoneNumberID string // WHATSAPP_PHONE_NUMBER_ID
	FacebookPageToken     string // FACEBOOK_PAGE_ACCESS_TOKEN
	GraphBaseURL          string // GRAPH_BASE_URL
	PromptLocale          string // PROMPT_LOCALE: BCP 47 tag for amount formatting
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage and integrations
	DB        DatabaseConfig
	Mpesa     MpesaConfig
	Redis     RedisConfig
	Messaging MessagingConfig

	// SweepBatch caps how many transactions one expiry sweep moves.
	SweepBatch int

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			URL:    getenv("DATABASE_URL", getenv("DB_PATH", "payments.db")),
			Debug:  getbool("DB_DEBUG", false),
		},

		// M-Pesa
		Mpesa: MpesaConfig{
			Environment:       strings.ToLower(getenv("MPESA_ENVIRONMENT", "sandbox")),
			BaseURL:           getenv("MPESA_BASE_URL", ""),
			ConsumerKey:       getenv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:    getenv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:         getenv("MPESA_SHORTCODE", ""),
			PassKey:           getenv("MPESA_PASSKEY", ""),
			CallbackURL:       getenv("MPESA_CALLBACK_URL", ""),
			TransactionType:   getenv("MPESA_TRANSACTION_TYPE", ""),
			Timeout:           getdur("MPESA_TIMEOUT", 30*time.Second),
			TokenSafetyMargin: getdur("MPESA_TOKEN_SAFETY_MARGIN", 5*time.Minute),
			IPWhitelist:       splitCSV(getenv("MPESA_IP_WHITELIST", "")),
			CountryCode:       getenv("MPESA_COUNTRY_CODE", "254"),
			STKExpiry:         getdur("MPESA_STK_EXPIRY", 10*time.Minute),
		},

		// Redis
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
			TLS:      getbool("REDIS_TLS", false),
			LockTTL:  getdur("REDIS_LOCK_TTL", 30*time.Second),
		},

		// Messaging
		Messaging: MessagingConfig{
			WhatsAppToken:         getenv("WHATSAPP_ACCESS_TOKEN", ""),
			WhatsAppPhoneNumberID: getenv("WHATSAPP_PHONE_NUMBER_ID", ""),
			FacebookPageToken:     getenv("FACEBOOK_PAGE_ACCESS_TOKEN", ""),
			GraphBaseURL:          getenv("GRAPH_BASE_URL", ""),
			PromptLocale:          getenv("PROMPT_LOCALE", "en"),
		},

		SweepBatch: getint("SWEEP_BATCH", 100),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-payments-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "postgres":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.DB.URL) == "" {
		return cfg, errors.New("DATABASE_URL must not be empty")
	}
	switch cfg.Mpesa.Environment {
	case "sandbox", "production":
	default:
		return cfg, errors.New("MPESA_ENVIRONMENT must be one of: sandbox, production")
	}
	if cfg.Mpesa.Timeout <= 0 || cfg.Mpesa.STKExpiry <= 0 {
		return cfg, errors.New("MPESA_TIMEOUT and MPESA_STK_EXPIRY must be positive durations")
	}
	if cfg.Mpesa.TokenSafetyMargin < 0 {
		return cfg, errors.New("MPESA_TOKEN_SAFETY_MARGIN must be >= 0")
	}
	if !isDigits(cfg.Mpesa.CountryCode) {
		return cfg, errors.New("MPESA_COUNTRY_CODE must be digits only")
	}
	if cfg.Redis.LockTTL <= 0 {
		return cfg, errors.New("REDIS_LOCK_TTL must be > 0")
	}
	if cfg.SweepBatch < 1 {
		return cfg, errors.New("SWEEP_BATCH must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// Ready reports whether the gateway has every credential needed to call the
// provider. The server starts without them so reads and callbacks keep
// working; initiation then fails with a provider error.
func (m MpesaConfig) Ready() bool {
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != "" &&
		m.PassKey != "" && m.CallbackURL != ""
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
