package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend keeps documents in a Postgres table.
type PostgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres opens a connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresBackend{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
	}, nil
}

// RunMigrations applies schema migrations on the connected database.
func (b *PostgresBackend) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	return ApplyMigrations(ctx, b.pool, filesystem)
}

// Load reads the named document.
func (b *PostgresBackend) Load(ctx context.Context, name string) ([]byte, error) {
	const q = `SELECT body FROM documents WHERE name = $1 LIMIT 1;`
	var body string
	if err := b.pool.QueryRow(ctx, q, name).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("load document %s: %w", name, err)
	}
	return []byte(body), nil
}

// Save upserts the named document.
func (b *PostgresBackend) Save(ctx context.Context, name string, data []byte) error {
	const q = `
INSERT INTO documents (name, body, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (name) DO UPDATE SET
    body = EXCLUDED.body,
    updated_at = NOW();
`
	if _, err := b.pool.Exec(ctx, q, name, string(data)); err != nil {
		return fmt.Errorf("save document %s: %w", name, err)
	}
	return nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
