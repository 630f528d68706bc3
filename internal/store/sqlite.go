// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists thread links with automatic schema creation and column migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the CLI read links while a chat session writes them
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Debug("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS thread_links (
			local_id    TEXT PRIMARY KEY,
			external_id TEXT NOT NULL DEFAULT '',
			registry_id TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (status IN ('pending', 'active', 'failed'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_thread_links_external
			ON thread_links(external_id) WHERE external_id != '';

		CREATE UNIQUE INDEX IF NOT EXISTS idx_thread_links_registry
			ON thread_links(registry_id) WHERE registry_id != '';

		CREATE INDEX IF NOT EXISTS idx_thread_links_updated
			ON thread_links(updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Databases created before titles were tracked lack the column.
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('thread_links') WHERE name = 'title'`,
			apply:  `ALTER TABLE thread_links ADD COLUMN title TEXT NOT NULL DEFAULT ''`,
			column: "title",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to thread_links: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "thread_links")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Debug("closing SQLite store")
	return s.db.Close()
}

// CreateLink inserts a new link.
// Returns ErrDuplicateLink if any of its ids is already taken.
func (s *SQLiteStore) CreateLink(ctx context.Context, link *ThreadLink) error {
	query := `
		INSERT INTO thread_links (local_id, external_id, registry_id, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		link.LocalID,
		link.ExternalID,
		link.RegistryID,
		link.Title,
		string(link.Status),
		formatTime(link.CreatedAt),
		formatTime(link.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLink
		}
		return fmt.Errorf("inserting thread link: %w", err)
	}

	s.logger.Debug("created thread link", "local_id", link.LocalID, "status", link.Status)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

const linkColumns = `local_id, external_id, registry_id, title, status, created_at, updated_at`

// GetLink retrieves a link by local id.
// Returns ErrNotFound if the link doesn't exist.
func (s *SQLiteStore) GetLink(ctx context.Context, localID string) (*ThreadLink, error) {
	return s.getLinkBy(ctx, "local_id", localID)
}

// GetLinkByExternalID retrieves the link holding a durable id.
func (s *SQLiteStore) GetLinkByExternalID(ctx context.Context, externalID string) (*ThreadLink, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return s.getLinkBy(ctx, "external_id", externalID)
}

// GetLinkByRegistryID retrieves the link holding a registry id.
func (s *SQLiteStore) GetLinkByRegistryID(ctx context.Context, registryID string) (*ThreadLink, error) {
	if registryID == "" {
		return nil, ErrNotFound
	}
	return s.getLinkBy(ctx, "registry_id", registryID)
}

// getLinkBy looks a link up by one of the indexed id columns. column is
// never user input.
func (s *SQLiteStore) getLinkBy(ctx context.Context, column, value string) (*ThreadLink, error) {
	query := `SELECT ` + linkColumns + ` FROM thread_links WHERE ` + column + ` = ?`

	link, err := scanLink(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread link by %s: %w", column, err)
	}
	return link, nil
}

// UpdateLink overwrites the ids, title, and status of an existing link.
// Returns ErrNotFound if the link doesn't exist.
func (s *SQLiteStore) UpdateLink(ctx context.Context, link *ThreadLink) error {
	query := `
		UPDATE thread_links
		SET external_id = ?, registry_id = ?, title = ?, status = ?, updated_at = ?
		WHERE local_id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		link.ExternalID,
		link.RegistryID,
		link.Title,
		string(link.Status),
		formatTime(link.UpdatedAt),
		link.LocalID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLink
		}
		return fmt.Errorf("updating thread link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated thread link", "local_id", link.LocalID, "status", link.Status)
	return nil
}

// ListLinks retrieves links ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListLinks(ctx context.Context, limit int) ([]*ThreadLink, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + linkColumns + ` FROM thread_links ORDER BY updated_at DESC, local_id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying thread links: %w", err)
	}
	defer rows.Close()

	var links []*ThreadLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread link rows: %w", err)
	}

	return links, nil
}

// DeleteLink removes a link. Deleting a missing link returns ErrNotFound.
func (s *SQLiteStore) DeleteLink(ctx context.Context, localID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM thread_links WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("deleting thread link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted thread link", "local_id", localID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*ThreadLink, error) {
	var link ThreadLink
	var status, createdAtStr, updatedAtStr string

	if err := row.Scan(
		&link.LocalID,
		&link.ExternalID,
		&link.RegistryID,
		&link.Title,
		&status,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}
	link.Status = LinkStatus(status)

	var err error
	link.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	link.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &link, nil
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
