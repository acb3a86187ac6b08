package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreBackend selects which recipient store implementation a run uses.
type StoreBackend string

const (
	StoreBackendCSV      StoreBackend = "csv"
	StoreBackendDatabase StoreBackend = "database"
)

// Config holds all configuration for the application
type Config struct {
	SMTP        SMTPConfig
	Mailer      MailerConfig
	Database    DatabaseConfig
	Events      EventsConfig
	Unsubscribe UnsubscribeConfig
	Server      ServerConfig
}

// SMTPConfig holds SMTP transport configuration
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	UseTLS        bool
	UseSSL        bool
	RetryAttempts int
	RetryDelay    time.Duration
	SendTimeout   time.Duration
}

// MailerConfig holds batch delivery configuration
type MailerConfig struct {
	Sender       string
	SenderName   string
	Subject      string
	TemplatePath string
	BatchSize    int
	BatchDelay   time.Duration
	StoreBackend StoreBackend
	ContactsFile string
	SourceQuery  string
	ReportsDir   string
	DryRun       bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// EventsConfig holds ticketing API configuration
type EventsConfig struct {
	APIURL   string
	APIToken string
	EventID  string
	RedisURL string
	CacheTTL time.Duration
}

// UnsubscribeConfig holds unsubscribe link configuration
type UnsubscribeConfig struct {
	BaseURL     string
	RedirectURL string
	TokenSecret string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// LoadConfig loads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func LoadConfig() (*Config, error) {
	// Missing .env is fine, real environments set vars directly.
	_ = godotenv.Load()

	config := &Config{
		SMTP: SMTPConfig{
			Host:          os.Getenv("SMTP_HOST"),
			Port:          getEnvInt("SMTP_PORT", 587),
			Username:      os.Getenv("SMTP_USERNAME"),
			Password:      os.Getenv("SMTP_PASSWORD"),
			UseTLS:        getEnvBool("SMTP_USE_TLS", true),
			UseSSL:        getEnvBool("SMTP_USE_SSL", false),
			RetryAttempts: getEnvInt("SMTP_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("SMTP_RETRY_DELAY_SECONDS", 5*time.Second),
			SendTimeout:   getEnvDuration("SMTP_SEND_TIMEOUT_SECONDS", 30*time.Second),
		},
		Mailer: MailerConfig{
			Sender:       os.Getenv("MAILER_SENDER"),
			SenderName:   os.Getenv("MAILER_SENDER_NAME"),
			Subject:      os.Getenv("MAILER_SUBJECT"),
			TemplatePath: os.Getenv("MAILER_TEMPLATE_PATH"),
			BatchSize:    getEnvInt("MAILER_BATCH_SIZE", 50),
			BatchDelay:   getEnvDuration("MAILER_BATCH_DELAY_SECONDS", 10*time.Second),
			StoreBackend: StoreBackend(getEnv("MAILER_STORE_BACKEND", string(StoreBackendCSV))),
			ContactsFile: os.Getenv("MAILER_CONTACTS_FILE"),
			SourceQuery:  os.Getenv("MAILER_SOURCE_QUERY"),
			ReportsDir:   getEnv("MAILER_REPORTS_DIR", "reports"),
			DryRun:       getEnvBool("MAILER_DRY_RUN", false),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Events: EventsConfig{
			APIURL:   os.Getenv("EVENTS_API_URL"),
			APIToken: os.Getenv("EVENTS_API_TOKEN"),
			EventID:  os.Getenv("EVENTS_EVENT_ID"),
			RedisURL: os.Getenv("REDIS_URL"),
			CacheTTL: getEnvDuration("EVENTS_CACHE_TTL_SECONDS", time.Hour),
		},
		Unsubscribe: UnsubscribeConfig{
			BaseURL:     os.Getenv("UNSUBSCRIBE_BASE_URL"),
			RedirectURL: os.Getenv("UNSUBSCRIBE_REDIRECT_URL"),
			TokenSecret: os.Getenv("UNSUBSCRIBE_TOKEN_SECRET"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateConfig validates that required configuration fields are present
func validateConfig(config *Config) error {
	if !config.Mailer.DryRun {
		if config.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required")
		}
		if config.SMTP.Port < 1 || config.SMTP.Port > 65535 {
			return fmt.Errorf("invalid SMTP_PORT: %d", config.SMTP.Port)
		}
		if config.SMTP.Username == "" {
			return fmt.Errorf("SMTP_USERNAME is required")
		}
		if config.SMTP.Password == "" {
			return fmt.Errorf("SMTP_PASSWORD is required")
		}
	}

	if config.Mailer.Sender == "" {
		return fmt.Errorf("MAILER_SENDER is required")
	}
	if config.Mailer.TemplatePath == "" {
		return fmt.Errorf("MAILER_TEMPLATE_PATH is required")
	}
	if config.Mailer.BatchSize < 1 {
		return fmt.Errorf("MAILER_BATCH_SIZE must be positive")
	}
	if config.SMTP.RetryAttempts < 0 {
		return fmt.Errorf("SMTP_RETRY_ATTEMPTS cannot be negative")
	}
	if config.SMTP.RetryDelay < 0 {
		return fmt.Errorf("SMTP_RETRY_DELAY_SECONDS cannot be negative")
	}

	switch config.Mailer.StoreBackend {
	case StoreBackendCSV:
		if config.Mailer.ContactsFile == "" {
			return fmt.Errorf("MAILER_CONTACTS_FILE is required for the csv backend")
		}
	case StoreBackendDatabase:
		if config.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the database backend")
		}
	default:
		return fmt.Errorf("unknown MAILER_STORE_BACKEND: %s", config.Mailer.StoreBackend)
	}

	return nil
}

// getEnv returns an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value
func getEnvInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default value
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

// getEnvDuration returns a duration (in whole seconds) or a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultValue
}
