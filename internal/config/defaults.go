package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen to be safe, reasonable
// starting points that work without any config file.
const (
	defaultListenAddr         = "127.0.0.1:9900"
	defaultAdminAddr          = ""
	defaultStateBackend       = "json"
	defaultShutdownTimeout    = "10s"
	defaultIdleTimeout        = "5m"
	defaultNotifierMaxRetries = 3
	defaultNotifierTimeout    = "15s"
	defaultChunkSize          = "4MiB"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
)

// DefaultConfig returns a Config populated with all default values. This is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server:   defaultServerConfig(),
		Notifier: defaultNotifierConfig(),
		Client:   defaultClientConfig(),
		Logging:  defaultLoggingConfig(),
	}
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      defaultListenAddr,
		AdminAddr:       defaultAdminAddr,
		DataDir:         DefaultDataDir(),
		StateBackend:    defaultStateBackend,
		ShutdownTimeout: defaultShutdownTimeout,
		IdleTimeout:     defaultIdleTimeout,
	}
}

func defaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MaxRetries: defaultNotifierMaxRetries,
		Timeout:    defaultNotifierTimeout,
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		ChunkSize: defaultChunkSize,
		StateDir:  DefaultDataDir(),
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
