package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBHost             string        `mapstructure:"DB_HOST"`
	DBPort             string        `mapstructure:"DB_PORT"`
	DBUser             string        `mapstructure:"DB_USER"`
	DBPassword         string        `mapstructure:"DB_PASSWORD"`
	DBName             string        `mapstructure:"DB_NAME"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	RedisURL           string        `mapstructure:"REDIS_URL"`
	KafkaBrokers       []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string        `mapstructure:"KAFKA_TOPIC"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	StaticDir          string        `mapstructure:"STATIC_DIR"`
	UploadDir          string        `mapstructure:"UPLOAD_DIR"`
	PredictURL         string        `mapstructure:"PREDICT_URL"`
	PredictTimeout     time.Duration `mapstructure:"PREDICT_TIMEOUT"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	AuthRateLimitRPS   float64       `mapstructure:"AUTH_RATE_LIMIT_RPS"`
	AuthRateLimitBurst int           `mapstructure:"AUTH_RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_STATEMENT_TIMEOUT",
	"REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC", "CORS_ORIGINS",
	"STATIC_DIR", "UPLOAD_DIR", "PREDICT_URL", "PREDICT_TIMEOUT",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "AUTH_RATE_LIMIT_RPS", "AUTH_RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5055")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", 5*time.Second)
	v.SetDefault("KAFKA_TOPIC", "clinical-events")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("STATIC_DIR", "./templates")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("PREDICT_URL", "http://127.0.0.1:5000/predict")
	v.SetDefault("PREDICT_TIMEOUT", 30*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 60*time.Second)
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("AUTH_RATE_LIMIT_RPS", 1)
	v.SetDefault("AUTH_RATE_LIMIT_BURST", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)

	if cfg.DatabaseURL == "" && cfg.DBHost != "" {
		cfg.DatabaseURL = cfg.composeDatabaseURL()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// composeDatabaseURL builds a postgres URL from the discrete DB_* settings.
func (c *Config) composeDatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	return u.String()
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or DB_HOST) is required")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if c.DBStatementTimeout <= 0 {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT must be positive")
	}
	if c.PredictTimeout <= 0 {
		return fmt.Errorf("PREDICT_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= c.PredictTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must exceed PREDICT_TIMEOUT (%s)", c.RequestTimeout, c.PredictTimeout)
	}
	if _, err := url.ParseRequestURI(c.PredictURL); err != nil {
		return fmt.Errorf("PREDICT_URL is not a valid URL: %w", err)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	return nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
