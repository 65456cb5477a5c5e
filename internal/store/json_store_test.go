package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileStore_CorruptFileYieldsEmptyMap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("not-json{"), 0o600))

	s := NewJSONFileStore(path, testLogger(t))

	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJSONFileStore_EmptyFileYieldsEmptyMap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s := NewJSONFileStore(path, testLogger(t))

	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJSONFileStore_SaveLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := NewJSONFileStore(path, testLogger(t))

	require.NoError(t, s.Save(sampleRecords()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestJSONFileStore_SaveCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewJSONFileStore(path, testLogger(t))

	require.NoError(t, s.Save(sampleRecords()))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestJSONFileStore_CorruptThenSaveRecovers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	s := NewJSONFileStore(path, testLogger(t))

	records, err := s.Load()
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, s.Save(sampleRecords()))

	records, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
