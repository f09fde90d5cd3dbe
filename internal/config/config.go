package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

// DefaultEnvFiles are loaded when the caller names none.
var DefaultEnvFiles = []string{".env", ".env.local"}

type Config struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`

	APIBaseURL  string        `env:"DOMO_API_BASE_URL" envDefault:"https://api.domo.com" validate:"required,url"`
	TokenBuffer time.Duration `env:"TOKEN_BUFFER" envDefault:"5m" validate:"gte=0"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"1000" validate:"gt=0"`
	// MaxPages bounds the page loop per tenant; 0 disables the bound.
	MaxPages int `env:"MAX_PAGES" envDefault:"10000" validate:"gte=0"`

	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"data/instance_creds.csv" validate:"required"`
	OutputPath      string `env:"OUTPUT_PATH" envDefault:"data/activity_log_data.csv"`
	DatasetID       string `env:"DATASET_ID"`
	DatasetName     string `env:"DATASET_NAME" envDefault:"Activity Log" validate:"required"`

	DBPath        string `env:"DB_PATH" envDefault:"data/auditsync.sqlite" validate:"required"`
	WebhookURL    string `env:"WEBHOOK_URL" validate:"omitempty,url"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`
	Addr     string `env:"ADDR" envDefault:":8080"`
	APIKey   string `env:"API_KEY"`
}

// Load reads the env files that exist (variables already set win), then
// parses and validates the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DatasetCredential is the data-scope credential used for dataset calls.
func (c Config) DatasetCredential() (domain.Credential, error) {
	if c.ClientID == "" || c.ClientSecret == "" {
		return domain.Credential{}, domain.ErrMissingCredentials
	}
	return domain.Credential{ClientID: c.ClientID, ClientSecret: c.ClientSecret}, nil
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file %s: %w", f, err)
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}
