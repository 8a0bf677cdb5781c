package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pulse/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	key_hash   TEXT NOT NULL UNIQUE,
	prefix     TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStorage implements KeyStore on an embedded SQLite database using the
// pure-Go modernc driver, so the binary stays CGO-free.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and if needed creates) the database and its schema.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, boolToInt(key.Enabled),
		formatTime(key.CreatedAt), formatTime(key.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (ss *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT id, name, key_hash, prefix, enabled, created_at, updated_at
		 FROM api_keys WHERE key_hash = ?`, hash)

	key, err := scanSQLiteKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

func (ss *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, name, key_hash, prefix, enabled, created_at, updated_at
		 FROM api_keys ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		key, err := scanSQLiteKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (ss *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	res, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET name = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		key.Name, boolToInt(key.Enabled), formatTime(time.Now()), key.ID)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return requireAffected(res)
}

func (ss *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireAffected(res)
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteKey(row rowScanner) (*models.APIKey, error) {
	var (
		key                  models.APIKey
		enabled              int
		createdAt, updatedAt string
	)
	if err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.Prefix, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if key.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	key.Enabled = enabled != 0
	return &key, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
