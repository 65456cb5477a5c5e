package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/uploadsrv/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagListenAddr string
	flagDataDir    string
	flagDebug      bool
	flagQuiet      bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "uploadsrv",
		Short:         "Resumable chunked upload server",
		Long:          "A resumable chunked upload server with a durable session registry and pluggable persistence backends.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagListenAddr, "listen-addr", "", "override server.listen_addr")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override server.data_dir")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration via the layered chain
// defaults -> file -> env -> CLI.
func loadConfig() (*config.Config, *slog.Logger, error) {
	bootstrapLogger := buildLogger(config.LoggingConfig{})

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, flagConfigPath, bootstrapLogger)

	cfg, err := config.LoadOrDefault(cfgPath, bootstrapLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	config.ApplyEnvOverrides(cfg, env)

	if flagListenAddr != "" {
		cfg.Server.ListenAddr = flagListenAddr
	}

	if flagDataDir != "" {
		cfg.Server.DataDir = flagDataDir
	}

	logger := buildLogger(cfg.Logging)

	return cfg, logger, nil
}

// buildLogger constructs the process logger from the resolved logging
// config. The "auto" format picks text when stderr is a TTY and json
// otherwise, for when uploadsrv runs under a log collector.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.LogFormat
	if format == "" || format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
