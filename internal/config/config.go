package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort             = "8080"
	DefaultCapacity         = 5
	DefaultIdentifyMaxSize  = 2 << 20
	DefaultJoinsPerMinute   = 20
	DefaultCreatesPerMinute = 5
)

type Config struct {
	Port           string
	RoomCapacity   int
	AllowedOrigins []string
	PublicURL      string

	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	TwilioAccountSID string
	TwilioAuthToken  string

	IdentifyURL     string
	IdentifyMaxSize int64

	NotifyWebhookURL string

	AdminUser         string
	AdminPasswordHash string

	JoinsPerMinute   int
	CreatesPerMinute int
}

// LoadConfig reads the environment, after loading a .env file when one is
// present in the working directory.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Error loading .env file, using environment variables directly")
	}

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		PublicURL:         strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          getEnv("S3_BUCKET", "audioparty-samples"),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		IdentifyURL:       os.Getenv("IDENTIFY_URL"),
		NotifyWebhookURL:  os.Getenv("NOTIFY_WEBHOOK_URL"),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
	}

	var err error
	if cfg.RoomCapacity, err = getEnvInt("ROOM_CAPACITY", DefaultCapacity); err != nil {
		return nil, err
	}
	if cfg.JoinsPerMinute, err = getEnvInt("RATE_LIMIT_JOINS", DefaultJoinsPerMinute); err != nil {
		return nil, err
	}
	if cfg.CreatesPerMinute, err = getEnvInt("RATE_LIMIT_CREATES", DefaultCreatesPerMinute); err != nil {
		return nil, err
	}
	maxSize, err := getEnvInt("IDENTIFY_MAX_BYTES", DefaultIdentifyMaxSize)
	if err != nil {
		return nil, err
	}
	cfg.IdentifyMaxSize = int64(maxSize)
	if cfg.S3UseSSL, err = getEnvBool("S3_USE_SSL", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.RoomCapacity < 2 {
		return fmt.Errorf("room capacity must be at least 2, got %d", c.RoomCapacity)
	}
	if c.IdentifyMaxSize <= 0 {
		return fmt.Errorf("IDENTIFY_MAX_BYTES must be positive")
	}
	if c.JoinsPerMinute < 0 || c.CreatesPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	return nil
}

// SetupLogging configures the standard logrus logger.
func (c *Config) SetupLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logrus.SetLevel(level)

	switch strings.ToLower(c.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
