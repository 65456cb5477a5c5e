package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/uploadsrv/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with defaults",
		Long: `Write a config file containing every recognized setting at its default
value, to the platform config path (or the path given with --config).
Refuses to overwrite an existing file.`,
		RunE: runConfigInit,
	}
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	logger := buildLogger(config.LoggingConfig{})

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, flagConfigPath, logger)

	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("config file already exists at %s", cfgPath)
	}

	data, err := encodeConfig(config.DefaultConfig())
	if err != nil {
		return err
	}

	if err := config.AtomicWriteFile(cfgPath, data); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", cfgPath)

	return nil
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)

	return err
}

func encodeConfig(cfg *config.Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	return buf.Bytes(), nil
}
