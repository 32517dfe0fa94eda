package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// ClipRecord represents a transcoded clip stored in the database
type ClipRecord struct {
	Stamp      string
	RecordedAt time.Time
	RawPath    string
	StreamPath string
	ImagePath  string
	CreatedAt  time.Time
}

// ConfigRecord represents a configuration key-value pair
type ConfigRecord struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// New creates a new database connection, creating the parent directory if needed
func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The API process and the recorder share the file.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS clips (
			stamp TEXT PRIMARY KEY,
			recorded_at DATETIME NOT NULL,
			raw_path TEXT NOT NULL,
			stream_path TEXT NOT NULL,
			image_path TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clips_recorded_at ON clips(recorded_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveClip saves or replaces a clip record
func (d *Database) SaveClip(ctx context.Context, c *ClipRecord) error {
	query := `INSERT INTO clips (stamp, recorded_at, raw_path, stream_path, image_path, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(stamp) DO UPDATE SET
			recorded_at = excluded.recorded_at,
			raw_path = excluded.raw_path,
			stream_path = excluded.stream_path,
			image_path = excluded.image_path`

	_, err := d.db.ExecContext(ctx, query, c.Stamp, c.RecordedAt.UTC(), c.RawPath, c.StreamPath, c.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to save clip: %w", err)
	}
	return nil
}

// GetClip retrieves a clip by stamp. It returns nil when no such clip exists.
func (d *Database) GetClip(ctx context.Context, stamp string) (*ClipRecord, error) {
	query := `SELECT stamp, recorded_at, raw_path, stream_path, image_path, created_at FROM clips WHERE stamp = ?`

	var c ClipRecord
	err := d.db.QueryRowContext(ctx, query, stamp).Scan(&c.Stamp, &c.RecordedAt, &c.RawPath, &c.StreamPath, &c.ImagePath, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	return &c, nil
}

// ListClips returns clips newest first. A limit of zero returns all of them.
func (d *Database) ListClips(ctx context.Context, limit int) ([]*ClipRecord, error) {
	query := `SELECT stamp, recorded_at, raw_path, stream_path, image_path, created_at
		FROM clips ORDER BY recorded_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	defer rows.Close()

	var clips []*ClipRecord
	for rows.Next() {
		var c ClipRecord
		if err := rows.Scan(&c.Stamp, &c.RecordedAt, &c.RawPath, &c.StreamPath, &c.ImagePath, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	return clips, nil
}

// DeleteClip deletes a clip by stamp and reports whether a row was removed
func (d *Database) DeleteClip(ctx context.Context, stamp string) (bool, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM clips WHERE stamp = ?", stamp)
	if err != nil {
		return false, fmt.Errorf("failed to delete clip: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete clip: %w", err)
	}
	return n > 0, nil
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(ctx context.Context, key, value string) error {
	return d.SaveConfigs(ctx, map[string]string{key: value})
}

// SaveConfigs upserts several configuration values in one transaction
func (d *Database) SaveConfigs(ctx context.Context, values map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, key, value); err != nil {
			return fmt.Errorf("failed to save config %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value
func (d *Database) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get config: %w", err)
	}
	return value, true, nil
}

// GetConfigs reads the given keys in a single query. Missing keys are absent from the result.
func (d *Database) GetConfigs(ctx context.Context, keys ...string) (map[string]string, error) {
	configs := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return configs, nil
	}

	query := "SELECT key, value FROM app_config WHERE key IN (?"
	args := []any{keys[0]}
	for _, k := range keys[1:] {
		query += ", ?"
		args = append(args, k)
	}
	query += ")"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get configs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		configs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get configs: %w", err)
	}
	return configs, nil
}
