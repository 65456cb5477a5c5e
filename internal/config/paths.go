package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName is the directory name used under every platform base directory.
const appName = "uploadsrv"

// configFileName is the file DefaultConfigPath points at.
const configFileName = "config.toml"

// baseDir resolves one platform base directory. On Linux (and anything
// else non-Apple) the XDG environment override wins, falling back to the
// conventional dot-directory under $HOME; macOS ignores XDG and uses the
// Library path Apple prescribes. Returns "" when no home directory can be
// determined, which callers treat as "no usable default".
func baseDir(xdgEnv string, macParts []string, unixParts ...string) string {
	if runtime.GOOS != "darwin" {
		if dir := os.Getenv(xdgEnv); dir != "" {
			return filepath.Join(dir, appName)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	parts := unixParts
	if runtime.GOOS == "darwin" {
		parts = macParts
	}

	return filepath.Join(append([]string{home}, append(parts, appName)...)...)
}

// DefaultConfigDir returns where the config file lives by default:
// $XDG_CONFIG_HOME/uploadsrv (or ~/.config/uploadsrv) on Linux,
// ~/Library/Application Support/uploadsrv on macOS.
func DefaultConfigDir() string {
	return baseDir("XDG_CONFIG_HOME", []string{"Library", "Application Support"}, ".config")
}

// DefaultDataDir returns where the server keeps its durable state — the
// session state document (or SQLite database, with state_backend =
// "sqlite"), uploaded files, PID file — and where the client keeps resume
// state: $XDG_DATA_HOME/uploadsrv (or ~/.local/share/uploadsrv) on Linux.
// macOS collapses config and data into the same Application Support
// directory.
func DefaultDataDir() string {
	return baseDir("XDG_DATA_HOME", []string{"Library", "Application Support"}, ".local", "share")
}

// DefaultCacheDir returns where transient signaling state lives — the
// client's per-upload control files: $XDG_CACHE_HOME/uploadsrv (or
// ~/.cache/uploadsrv) on Linux, ~/Library/Caches/uploadsrv on macOS.
func DefaultCacheDir() string {
	return baseDir("XDG_CACHE_HOME", []string{"Library", "Caches"}, ".cache")
}

// DefaultConfigPath returns the full path to the default config file, the
// fallback when neither UPLOADSRV_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
