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
	flagServerAddr string
	flagStateDir   string
	flagDebug      bool
	flagQuiet      bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "uploadctl",
		Short:         "Client for the resumable chunked upload server",
		Long:          "Upload files to an uploadsrv instance, with pause/resume/stop control and automatic resume after interruption.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagServerAddr, "server-addr", "", "override client.server_addr")
	cmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "override client.state_dir")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration via the layered chain
// defaults -> file -> env -> CLI. uploadctl shares uploadsrv's config file;
// each binary reads only its own sections.
func loadConfig() (*config.Config, *slog.Logger, error) {
	bootstrapLogger := buildLogger(config.LoggingConfig{})

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, flagConfigPath, bootstrapLogger)

	cfg, err := config.LoadOrDefault(cfgPath, bootstrapLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if flagServerAddr != "" {
		cfg.Client.ServerAddr = flagServerAddr
	}

	if flagStateDir != "" {
		cfg.Client.StateDir = flagStateDir
	}

	logger := buildLogger(cfg.Logging)

	return cfg, logger, nil
}

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
