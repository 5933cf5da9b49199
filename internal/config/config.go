package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost   string
	HTTPPort  string
	AppEnv    string
	LogLevel  string
	LogFormat string

	// MediaDir is where uploaded attachments are written.
	MediaDir string

	JWTSecret     string
	JWTTTLMinutes int
	BcryptCost    int

	// KafkaBrokers and KafkaTopicTicket enable ticket event publishing when both are set.
	KafkaBrokers     []string
	KafkaTopicTicket string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8097"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		MediaDir:         getEnv("MEDIA_DIR", "media"),
		JWTSecret:        getEnv("JWT_SECRET", "change-me-in-production"),
		KafkaBrokers:     ParseList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", "tracker.tickets"),
	}
	var err error
	if cfg.JWTTTLMinutes, err = getEnvInt("JWT_TTL_MINUTES", 60); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getEnvInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "issue_tracker")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.AppEnv == "production" && (c.JWTSecret == "" || c.JWTSecret == "change-me-in-production") {
		return errors.New("config: in production JWT_SECRET must be set")
	}
	if c.JWTTTLMinutes <= 0 {
		return errors.New("config: JWT_TTL_MINUTES must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// KafkaEnabled reports whether ticket events should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopicTicket != ""
}

// ParseList splits "host1:9092,host2:9092" into a slice, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
