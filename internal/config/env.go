package config

import (
	"os"
	"strings"
)

// Secrets may come from the environment instead of the file.
const (
	EnvTelegramToken = "CRAFTYBOT_TELEGRAM_TOKEN"
	EnvCraftyAPIKey  = "CRAFTYBOT_CRAFTY_API_KEY"
	EnvStorageDSN    = "CRAFTYBOT_STORAGE_DSN"
)

func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvCraftyAPIKey)); v != "" {
		cfg.Crafty.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
}
