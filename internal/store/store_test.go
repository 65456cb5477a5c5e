package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/uploadsrv/internal/session"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleRecords() map[string]*session.Record {
	created := time.Date(2026, 5, 12, 9, 30, 0, 0, time.UTC)

	return map[string]*session.Record{
		"u1": {
			UploadID: "u1",
			Filename: "a.bin",
			FileSize: 4096,
			Offset:   1024,
			Status:   session.StatusUploading,
			Peer:     "192.0.2.10:51234",
			Metadata: session.Metadata{
				Token:       "tok-1",
				Filename:    "a.bin",
				Description: "first",
				Visibility:  "private",
				Tags:        []string{"backups", "nightly"},
			},
			CreatedAt: created,
			UpdatedAt: created.Add(5 * time.Minute),
		},
		"u2": {
			UploadID:      "u2",
			Filename:      "b.bin",
			FileSize:      10,
			Offset:        10,
			Status:        session.StatusPaused,
			Peer:          "192.0.2.11:40000",
			Metadata:      session.Metadata{Token: "tok-2", Filename: "b.bin"},
			CreatedAt:     created,
			UpdatedAt:     created,
			RequireDigest: true,
		},
	}
}

// backendFactories lets the conformance suite below run identically against
// every Backend implementation.
var backendFactories = map[string]func(t *testing.T) session.Backend{
	"json": func(t *testing.T) session.Backend {
		t.Helper()

		return NewJSONFileStore(filepath.Join(t.TempDir(), "state.json"), testLogger(t))
	},
	"sqlite": func(t *testing.T) session.Backend {
		t.Helper()

		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "state.db"), testLogger(t))
		require.NoError(t, err)

		t.Cleanup(func() {
			require.NoError(t, s.Close())
		})

		return s
	},
}

func TestBackend_LoadEmptyWhenNoState(t *testing.T) {
	t.Parallel()

	for name, newBackend := range backendFactories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			records, err := newBackend(t).Load()
			require.NoError(t, err)
			assert.NotNil(t, records)
			assert.Empty(t, records)
		})
	}
}

func TestBackend_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	for name, newBackend := range backendFactories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newBackend(t)
			want := sampleRecords()

			require.NoError(t, b.Save(want))

			got, err := b.Load()
			require.NoError(t, err)
			require.Len(t, got, len(want))

			for id, wantRec := range want {
				gotRec, ok := got[id]
				require.True(t, ok, "missing record %s", id)

				assert.Equal(t, wantRec.UploadID, gotRec.UploadID)
				assert.Equal(t, wantRec.Filename, gotRec.Filename)
				assert.Equal(t, wantRec.FileSize, gotRec.FileSize)
				assert.Equal(t, wantRec.Offset, gotRec.Offset)
				assert.Equal(t, wantRec.Status, gotRec.Status)
				assert.Equal(t, wantRec.Peer, gotRec.Peer)
				assert.Equal(t, wantRec.Metadata, gotRec.Metadata)
				assert.Equal(t, wantRec.RequireDigest, gotRec.RequireDigest)
				assert.True(t, wantRec.CreatedAt.Equal(gotRec.CreatedAt))
				assert.True(t, wantRec.UpdatedAt.Equal(gotRec.UpdatedAt))
			}
		})
	}
}

func TestBackend_SaveReplacesPriorContents(t *testing.T) {
	t.Parallel()

	for name, newBackend := range backendFactories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newBackend(t)

			require.NoError(t, b.Save(sampleRecords()))

			remaining := map[string]*session.Record{"u2": sampleRecords()["u2"]}
			require.NoError(t, b.Save(remaining))

			got, err := b.Load()
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Contains(t, got, "u2")
		})
	}
}

func TestBackend_SaveEmptyMapClearsState(t *testing.T) {
	t.Parallel()

	for name, newBackend := range backendFactories {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newBackend(t)

			require.NoError(t, b.Save(sampleRecords()))
			require.NoError(t, b.Save(map[string]*session.Record{}))

			got, err := b.Load()
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}
