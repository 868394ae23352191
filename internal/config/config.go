package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	LogLevel      string
	SnowflakeNode int64
	AuthJWTSecret string

	LogFormat string

	OTelEnabled      bool
	OTLPEndpoint     string
	OTLPProtocol     string
	TraceSampleRatio float64

	RedisAddr string
	RedisDB   int

	// MetricsPush* configure one-shot metric delivery from gigpayctl.
	MetricsPushExporter string
	MetricsPushEndpoint string
	MetricsPushToken    string

	// SettlementDispatch is "async" (event bus) or "sync" (direct call).
	SettlementDispatch string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	DBAutoMigrate     bool

	DBSlowQueryThreshold time.Duration

	Gateway GatewayConfig
}

type GatewayConfig struct {
	Provider            string
	PaystackSecretKey   string
	PaystackBaseURL     string
	StripeSecretKey     string
	StripeWebhookSecret string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:              getenv("APP_SERVICE", "gigpay"),
		AppVersion:           getenv("APP_VERSION", "0.1.0"),
		Environment:          getenv("ENVIRONMENT", "development"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		LogLevel:             strings.ToLower(getenv("LOG_LEVEL", "info")),
		SnowflakeNode:        getenvInt64("SNOWFLAKE_NODE", 1),
		AuthJWTSecret:        strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		LogFormat:            strings.ToLower(getenv("LOG_FORMAT", "json")),
		OTelEnabled:          getenvBool("OTEL_ENABLED", true),
		OTLPEndpoint:         getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:         strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
		TraceSampleRatio:     getenvFloat("TRACE_SAMPLE_RATIO", 0.1),
		RedisAddr:            strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisDB:              getenvInt("REDIS_DB", 0),
		SettlementDispatch:   strings.ToLower(getenv("SETTLEMENT_DISPATCH", "async")),
		MetricsPushExporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
		MetricsPushEndpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
		MetricsPushToken:     strings.TrimSpace(getenv("METRICS_PUSH_TOKEN", "")),
		DBType:               getenv("DATABASE_TYPE", "postgres"),
		DBHost:               getenv("DATABASE_HOST", "localhost"),
		DBPort:               getenv("DATABASE_PORT", "5432"),
		DBName:               getenv("DATABASE_NAME", "gigpay"),
		DBUser:               getenv("DATABASE_USER", "postgres"),
		DBPassword:           getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:            getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:        getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:        getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:    getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime:    getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		DBAutoMigrate:        getenvBool("DATABASE_AUTO_MIGRATE", true),
		DBSlowQueryThreshold: getenvDuration("DATABASE_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		Gateway: GatewayConfig{
			Provider:            strings.ToLower(getenv("GATEWAY_PROVIDER", "paystack")),
			PaystackSecretKey:   strings.TrimSpace(getenv("PAYSTACK_SECRET_KEY", "")),
			PaystackBaseURL:     strings.TrimSpace(getenv("PAYSTACK_BASE_URL", "https://api.paystack.co")),
			StripeSecretKey:     strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func (c Config) AsyncSettlement() bool {
	return c.SettlementDispatch != "sync"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
