package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minNotifierRetries = 0
	maxNotifierRetries = 10
	minShutdownTimeout = 1 * time.Second
	minNotifierTimeout = 1 * time.Second
	minIdleTimeout     = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found. It
// accumulates every error rather than stopping at the first, so users see a
// complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateNotifier(&cfg.Notifier)...)
	errs = append(errs, validateClient(&cfg.Client)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr: must not be empty"))
	}

	if !validStateBackends[s.StateBackend] {
		errs = append(errs, fmt.Errorf("server.state_backend: must be one of json, sqlite; got %q", s.StateBackend))
	}

	errs = append(errs, validateDurationMin("server.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateDurationMin("server.idle_timeout", s.IdleTimeout, minIdleTimeout)...)

	return errs
}

var validStateBackends = map[string]bool{
	"json":   true,
	"sqlite": true,
}

func validateNotifier(n *NotifierConfig) []error {
	var errs []error

	if n.MaxRetries < minNotifierRetries || n.MaxRetries > maxNotifierRetries {
		errs = append(errs, fmt.Errorf("notifier.max_retries: must be between %d and %d, got %d",
			minNotifierRetries, maxNotifierRetries, n.MaxRetries))
	}

	errs = append(errs, validateDurationMin("notifier.timeout", n.Timeout, minNotifierTimeout)...)

	return errs
}

func validateClient(c *ClientConfig) []error {
	var errs []error

	if c.ChunkSize != "" {
		if _, err := ParseSize(c.ChunkSize); err != nil {
			errs = append(errs, fmt.Errorf("client.chunk_size: %w", err))
		}
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
