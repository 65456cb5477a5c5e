package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file and validates it. Unknown keys
// are treated as fatal errors with "did you mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path)

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports a zero-config
// first-run experience.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cliPath string, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cliPath != "" {
		cfgPath = cliPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}

// ApplyEnvOverrides applies environment overrides onto a loaded Config. CLI
// flag overrides are applied separately by each command, closer to where
// cobra parses the flag, matching the layering order defaults -> file ->
// env -> CLI.
func ApplyEnvOverrides(cfg *Config, env EnvOverrides) {
	if env.ListenAddr != "" {
		cfg.Server.ListenAddr = env.ListenAddr
	}

	if env.DataDir != "" {
		cfg.Server.DataDir = env.DataDir
	}
}
