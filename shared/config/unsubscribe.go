package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadUnsubscribeConfig loads the subset of configuration the
// unsubscribe service needs. It shares the mailer's environment but
// does not require SMTP or template settings.
func LoadUnsubscribeConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
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

	if config.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if config.Unsubscribe.TokenSecret == "" {
		return nil, fmt.Errorf("UNSUBSCRIBE_TOKEN_SECRET is required")
	}

	return config, nil
}
