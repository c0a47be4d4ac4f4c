package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Secrets are the credentials that never live in the config file. They are
// resolved once at process start and passed down explicitly.
type Secrets struct {
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	OpenRouterAPIKey string `envconfig:"OPENROUTER_API_KEY"`
	// APIKey guards the system endpoints of the HTTP service. Empty
	// disables the check (local development).
	APIKey string `envconfig:"PROCODE_API_KEY"`
}

// LoadSecrets loads a .env file when present and decodes the secret
// environment variables.
func LoadSecrets() (Secrets, error) {
	// Missing .env is fine; the real environment wins either way.
	_ = godotenv.Load()

	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}
