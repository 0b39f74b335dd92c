package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps documents in a local SQLite database.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens the SQLite database at databasePath.
func NewSQLite(ctx context.Context, databasePath string, logger *slog.Logger) (*SQLiteBackend, error) {
	path := strings.TrimSpace(databasePath)
	if path == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}
	if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn = fmt.Sprintf("%s%s_pragma=busy_timeout=10000&_pragma=journal_mode=WAL", dsn, sep)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteBackend{
		db:     db,
		logger: logger.With("component", "repo_sqlite"),
	}, nil
}

// RunMigrations applies every .sql file in filesystem in lexicographical order.
func (b *SQLiteBackend) RunMigrations(ctx context.Context, filesystem fs.FS) error {
	names, err := migrationNames(filesystem)
	if err != nil {
		return err
	}
	for _, name := range names {
		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := b.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
		b.logger.Debug("migration applied", "file", name)
	}
	return nil
}

// Load reads the named document.
func (b *SQLiteBackend) Load(ctx context.Context, name string) ([]byte, error) {
	const q = `SELECT body FROM documents WHERE name = ? LIMIT 1;`
	var body string
	if err := b.db.QueryRowContext(ctx, q, name).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("load document %s: %w", name, err)
	}
	return []byte(body), nil
}

// Save upserts the named document.
func (b *SQLiteBackend) Save(ctx context.Context, name string, data []byte) error {
	const q = `
INSERT INTO documents (name, body, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (name) DO UPDATE SET
    body = excluded.body,
    updated_at = CURRENT_TIMESTAMP;
`
	if _, err := b.db.ExecContext(ctx, q, name, string(data)); err != nil {
		return fmt.Errorf("save document %s: %w", name, err)
	}
	return nil
}

// Close releases the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
