// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for uploadsrv and uploadctl.
package config

// Config is the top-level configuration structure shared by the server and
// client binaries. Unused sections are simply ignored by whichever binary
// doesn't need them.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Notifier NotifierConfig `toml:"notifier"`
	Client   ClientConfig   `toml:"client"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig controls the upload server daemon.
type ServerConfig struct {
	ListenAddr         string `toml:"listen_addr"`
	AdminAddr          string `toml:"admin_addr"`
	DataDir            string `toml:"data_dir"`
	StateBackend       string `toml:"state_backend"`
	StrictOffset       bool   `toml:"strict_offset"`
	StrictSingleWriter bool   `toml:"strict_single_writer"`
	ShutdownTimeout    string `toml:"shutdown_timeout"`
	IdleTimeout        string `toml:"idle_timeout"`
}

// NotifierConfig controls the outbound completion notification.
type NotifierConfig struct {
	URL        string `toml:"url"`
	MaxRetries int    `toml:"max_retries"`
	Timeout    string `toml:"timeout"`
}

// ClientConfig controls the upload client driver. Token is the bearer
// credential forwarded in the start frame's metadata; the server passes it
// through to the metadata service on completion.
type ClientConfig struct {
	ServerAddr string `toml:"server_addr"`
	ChunkSize  string `toml:"chunk_size"`
	StateDir   string `toml:"state_dir"`
	Token      string `toml:"token"`
	Digest     bool   `toml:"digest"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}
