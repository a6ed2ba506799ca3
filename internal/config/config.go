package config

import (
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=trattoria port=5432 sslmode=disable"

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string

	LogLevel  string
	LogFormat string

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBSlowQuery       time.Duration
	DBTracing         bool

	// Window in which a lot with an expiry date is reported as expiring.
	ExpiryLookahead time.Duration

	OrderNumberPrefix string
	// Month boundaries for order numbering are evaluated in this zone.
	BusinessLocation *time.Location
}

// Load reads the environment (after an optional .env file) and aborts the
// process when a setting required in production is missing.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded, using process environment")
	}

	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:       getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		CORSOrigins:       getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		DBSlowQuery:       time.Duration(getEnvInt("DB_SLOW_QUERY_MS", 200)) * time.Millisecond,
		DBTracing:         getEnvBool("DB_TRACING", false),
		ExpiryLookahead:   time.Duration(getEnvInt("STOCK_EXPIRY_LOOKAHEAD_DAYS", 7)) * 24 * time.Hour,
		OrderNumberPrefix: getEnv("ORDER_NUMBER_PREFIX", "ORD"),
	}

	loc, err := time.LoadLocation(getEnv("BUSINESS_TIMEZONE", "UTC"))
	if err != nil {
		logrus.WithError(err).Fatal("BUSINESS_TIMEZONE is not a valid IANA zone")
	}
	cfg.BusinessLocation = loc

	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		logrus.Fatal("JWT_SECRET must be at least 32 characters")
	}
	if cfg.DatabaseDSN == defaultDSN {
		logrus.Warn("DATABASE_DSN not set, using the local development default")
	}
	if cfg.ExpiryLookahead < 0 {
		logrus.Fatal("STOCK_EXPIRY_LOOKAHEAD_DAYS must not be negative")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.WithField("key", key).Warnf("invalid integer %q, using default %d", v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
