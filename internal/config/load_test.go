package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
[server]
listen_addr = "0.0.0.0:9900"
admin_addr = "127.0.0.1:9901"
data_dir = "/var/lib/uploadsrv"
state_backend = "sqlite"
strict_offset = true
strict_single_writer = true
shutdown_timeout = "30s"
idle_timeout = "60s"

[notifier]
url = "https://metadata.example.com/api/documents"
max_retries = 5
timeout = "10s"

[client]
server_addr = "uploads.example.com:9900"
chunk_size = "8MiB"
state_dir = "/home/user/.local/share/uploadsrv"
token = "tok"
digest = true

[logging]
log_level = "debug"
log_format = "json"
`

	path := writeTestConfig(t, tomlContent)
	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9900", cfg.Server.ListenAddr)
	assert.Equal(t, "127.0.0.1:9901", cfg.Server.AdminAddr)
	assert.Equal(t, "/var/lib/uploadsrv", cfg.Server.DataDir)
	assert.Equal(t, "sqlite", cfg.Server.StateBackend)
	assert.True(t, cfg.Server.StrictOffset)
	assert.True(t, cfg.Server.StrictSingleWriter)
	assert.Equal(t, "30s", cfg.Server.ShutdownTimeout)
	assert.Equal(t, "60s", cfg.Server.IdleTimeout)

	assert.Equal(t, "https://metadata.example.com/api/documents", cfg.Notifier.URL)
	assert.Equal(t, 5, cfg.Notifier.MaxRetries)
	assert.Equal(t, "10s", cfg.Notifier.Timeout)

	assert.Equal(t, "uploads.example.com:9900", cfg.Client.ServerAddr)
	assert.Equal(t, "8MiB", cfg.Client.ChunkSize)
	assert.Equal(t, "tok", cfg.Client.Token)
	assert.True(t, cfg.Client.Digest)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[server]
listen_addr = "127.0.0.1:7777"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddr)
	assert.Equal(t, defaultStateBackend, cfg.Server.StateBackend)
	assert.Equal(t, defaultIdleTimeout, cfg.Server.IdleTimeout)
	assert.Equal(t, defaultChunkSize, cfg.Client.ChunkSize)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeySuggestsClosestMatch(t *testing.T) {
	path := writeTestConfig(t, `
[server]
listen_adr = "127.0.0.1:7777"
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_adr")
	assert.Contains(t, err.Error(), "listen_addr")
}

func TestLoad_UnknownKeyWithoutNearMatch(t *testing.T) {
	path := writeTestConfig(t, `
[server]
completely_unrelated_setting = true
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoad_InvalidTOMLSyntax(t *testing.T) {
	path := writeTestConfig(t, `[server
broken`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_MissingFileIsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"), testLogger(t))
	assert.Error(t, err)
}

func TestLoadOrDefault_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveConfigPath_PriorityOrder(t *testing.T) {
	logger := testLogger(t)

	// Default when nothing overrides.
	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, "", logger))

	// Env beats default.
	assert.Equal(t, "/env/config.toml",
		ResolveConfigPath(EnvOverrides{ConfigPath: "/env/config.toml"}, "", logger))

	// CLI beats env.
	assert.Equal(t, "/cli/config.toml",
		ResolveConfigPath(EnvOverrides{ConfigPath: "/env/config.toml"}, "/cli/config.toml", logger))
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	ApplyEnvOverrides(cfg, EnvOverrides{ListenAddr: "10.0.0.1:9000", DataDir: "/srv/data"})

	assert.Equal(t, "10.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, "/srv/data", cfg.Server.DataDir)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/c.toml")
	t.Setenv(EnvListen, "1.2.3.4:5")
	t.Setenv(EnvDataDir, "/tmp/data")

	env := ReadEnvOverrides()
	assert.Equal(t, "/tmp/c.toml", env.ConfigPath)
	assert.Equal(t, "1.2.3.4:5", env.ListenAddr)
	assert.Equal(t, "/tmp/data", env.DataDir)
}

func TestAtomicWriteFile_WritesAndReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	require.NoError(t, AtomicWriteFile(path, []byte("first")))
	require.NoError(t, AtomicWriteFile(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
