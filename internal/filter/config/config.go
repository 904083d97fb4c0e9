package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// DataDir is the profile directory holding the persisted filter state
	// and the compiled-rules database.
	DataDir string `koanf:"data_dir" validate:"required"`

	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Locale is the BCP-47 language tag used to pick region-specific
	// preset lists during storage migrations.
	Locale string `koanf:"locale" validate:"required"`

	// FetchTimeout bounds a single rule-list download.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required"`

	// CacheSize is the capacity of the exemption decision cache.
	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`
}

// DEFAULT_APP_CONFIG defines the default application configuration for the
// filter service.
var DEFAULT_APP_CONFIG = AppConfig{
	DataDir:      "/var/lib/rr-filter/",
	Env:          "prod",
	LogLevel:     "info",
	Locale:       "en-US",
	FetchTimeout: 30 * time.Second,
	CacheSize:    1000,
}

// envLoader loads environment variables with the prefix "FILTER_".
// It transforms the keys to lowercase and removes the prefix,
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "FILTER_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "FILTER_"))
			value = strings.TrimSpace(value)
			return key, value
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf
// instance using the structs provider and DEFAULT_APP_CONFIG.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
