package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// FromEnv reads the whole configuration from the environment, applying
// each field's env-default when its variable is unset.
func FromEnv() (*Config, error) {
	return Load(WithEnv())
}

// WithEnv overwrites every field from the environment or its default.
// Options that should win over the environment must come after it.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// Usage describes every environment variable the config reads.
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return desc
}
