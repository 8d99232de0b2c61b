package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // "json" or "pretty"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// RedisURL enables the cross-process chat relay when set.
	RedisURL string

	// AssistURL is the text-generation endpoint for the AI question route.
	// Empty disables the route.
	AssistURL    string
	AssistAPIKey string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("GYMHUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("GYMHUB_LOG_LEVEL", "info"),
		LogFormat: EnvString("GYMHUB_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("GYMHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("GYMHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("GYMHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("GYMHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("GYMHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("GYMHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("GYMHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("GYMHUB_DB_MIN_CONNS", 0),

		RedisURL: EnvString("GYMHUB_REDIS_URL", ""),

		AssistURL:    EnvString("GYMHUB_ASSIST_URL", ""),
		AssistAPIKey: EnvString("GYMHUB_ASSIST_API_KEY", ""),

		CORSAllowedOrigins:   EnvCSV("GYMHUB_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("GYMHUB_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("GYMHUB_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("GYMHUB_READINESS_REQUIRE_DB", false),
	}
}
