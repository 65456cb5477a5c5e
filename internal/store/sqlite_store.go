package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tonimelisma/uploadsrv/internal/session"
)

// SQLiteStore is an alternate Backend for deployments that prefer a real
// database over a flat JSON document — useful once the session count grows
// large enough that rewriting the whole document on every chunk ack becomes
// expensive. Schema is applied via embedded goose migrations. SetMaxOpenConns(1)
// keeps every access serialized through a single connection, matching the
// single-mutex model the rest of this package relies on.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if absent) a SQLite database at path and
// applies pending migrations.
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load reads every session row into a map.
func (s *SQLiteStore) Load() (map[string]*session.Record, error) {
	rows, err := s.db.Query(`
		SELECT upload_id, filename, filesize, offset_bytes, status, peer,
		       metadata_json, content_digest, require_digest, created_at, updated_at
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: querying sessions: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*session.Record)

	for rows.Next() {
		var (
			rec          session.Record
			metadataJSON string
			createdAt    time.Time
			updatedAt    time.Time
		)

		if err := rows.Scan(&rec.UploadID, &rec.Filename, &rec.FileSize, &rec.Offset,
			&rec.Status, &rec.Peer, &metadataJSON, &rec.ContentDigest, &rec.RequireDigest,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scanning session row: %w", err)
		}

		if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
			s.logger.Warn("session row has corrupt metadata, using empty metadata",
				slog.String("upload_id", rec.UploadID), slog.String("error", err.Error()))
		}

		rec.CreatedAt = createdAt
		rec.UpdatedAt = updatedAt
		records[rec.UploadID] = &rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating session rows: %w", err)
	}

	return records, nil
}

// Save replaces the entire table contents in a single transaction, mirroring
// the atomicity guarantee the JSON backend gets from rename(2).
func (s *SQLiteStore) Save(records map[string]*session.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("store: clearing sessions table: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO sessions
			(upload_id, filename, filesize, offset_bytes, status, peer,
			 metadata_json, content_digest, require_digest, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		metadataJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("store: marshaling metadata for %s: %w", rec.UploadID, err)
		}

		if _, err := stmt.Exec(rec.UploadID, rec.Filename, rec.FileSize, rec.Offset, rec.Status,
			rec.Peer, string(metadataJSON), rec.ContentDigest, rec.RequireDigest,
			rec.CreatedAt, rec.UpdatedAt); err != nil {
			return fmt.Errorf("store: inserting session %s: %w", rec.UploadID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing transaction: %w", err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
