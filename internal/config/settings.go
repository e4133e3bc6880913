// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every speechrig environment variable.
const EnvPrefix = "SPEECHRIG_"

// Settings are per-process options. They come from SPEECHRIG_* variables and
// are then overridden by command line flags; none of them are persisted.
type Settings struct {
	// ConfigDir holds config.toml, speechrig.env and the compose override.
	// Empty means ~/.speechrig.
	ConfigDir string `envDefault:""                   env:"CONFIG_DIR"`
	// ComposeFile is the base compose file the override is layered on.
	ComposeFile   string        `envDefault:"docker-compose.yml" env:"COMPOSE_FILE"`
	ProbeTimeout  time.Duration `envDefault:"5s"                 env:"PROBE_TIMEOUT"`
	VerifyTimeout time.Duration `envDefault:"3m"                 env:"VERIFY_TIMEOUT"`
	StartTimeout  time.Duration `envDefault:"15m"                env:"START_TIMEOUT"`
	LogLevel      string        `envDefault:"info"               env:"LOG_LEVEL"`
	// ComposeCommand is the container toolchain binary.
	ComposeCommand string `envDefault:"docker" env:"DOCKER"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (Settings, error) {
	s, err := env.ParseAsWithOptions[Settings](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Settings{}, fmt.Errorf("invalid %s environment: %w", EnvPrefix, err)
	}
	return s, nil
}

// ResolveConfigDir returns ConfigDir, or the default directory when unset.
func (s Settings) ResolveConfigDir() (string, error) {
	if s.ConfigDir != "" {
		return s.ConfigDir, nil
	}
	return ConfigDir()
}

// Validate checks the settings.
func (s Settings) Validate() error {
	var errs ValidateErrors
	if s.ProbeTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "probe-timeout", Message: "must be positive"})
	}
	if s.VerifyTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "verify-timeout", Message: "must be positive"})
	}
	if s.StartTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "start-timeout", Message: "must be positive"})
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "log-level", Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", s.LogLevel)})
	}
	if s.ComposeFile == "" {
		errs = append(errs, ValidationError{Field: "compose-file", Message: "must not be empty"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
