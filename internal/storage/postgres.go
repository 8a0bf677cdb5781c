package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulse/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	key_hash   TEXT NOT NULL UNIQUE,
	prefix     TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStorage implements KeyStore using a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL and ensures the schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (ps *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, key.Enabled,
		orNow(key.CreatedAt), orNow(key.UpdatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (ps *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, name, key_hash, prefix, enabled, created_at, updated_at
		 FROM api_keys WHERE key_hash = $1`, hash)
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}

	key, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByPos[pgAPIKey])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return key.toModel(), nil
}

func (ps *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT id, name, key_hash, prefix, enabled, created_at, updated_at
		 FROM api_keys ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	found, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[pgAPIKey])
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]*models.APIKey, 0, len(found))
	for _, k := range found {
		keys = append(keys, k.toModel())
	}
	return keys, nil
}

// UpdateAPIKey updates an existing API key's mutable fields.
func (ps *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE api_keys SET name = $2, enabled = $3, updated_at = now() WHERE id = $1`,
		key.ID, key.Name, key.Enabled)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes an API key by its ID.
func (ps *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

// pgAPIKey mirrors the column order of the api_keys SELECTs.
type pgAPIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Prefix    string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (k *pgAPIKey) toModel() *models.APIKey {
	return &models.APIKey{
		ID:        k.ID,
		Name:      k.Name,
		KeyHash:   k.KeyHash,
		Prefix:    k.Prefix,
		Enabled:   k.Enabled,
		CreatedAt: k.CreatedAt.UTC(),
		UpdatedAt: k.UpdatedAt.UTC(),
	}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
