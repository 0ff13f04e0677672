package config

import (
	"os"

	"github.com/joho/godotenv"
)

// ApplyEnv loads an optional .env file and overlays secret-bearing settings
// from the process environment. Environment wins over the yaml file so that
// deployment secrets never live in config files.
func ApplyEnv(cfg *Config, envFile string) {
	if envFile != "" {
		// Missing file is fine; godotenv only errors on unreadable files
		_ = godotenv.Load(envFile)
	}

	if v := os.Getenv("BACKOFFICE_REDIS_ADDR"); v != "" {
		cfg.Stores.State.Addr = v
	}
	if v := os.Getenv("BACKOFFICE_REDIS_PASSWORD"); v != "" {
		cfg.Stores.State.Password = v
	}
	if v := os.Getenv("BACKOFFICE_JOURNAL_DSN"); v != "" {
		cfg.Stores.Journal.DSN = v
	}
	if v := os.Getenv("FISCAL_API_KEY"); v != "" {
		cfg.Fiscal.APIKey = v
	}
	if v := os.Getenv("FISCAL_API_SECRET"); v != "" {
		cfg.Fiscal.APISecret = v
	}
}
