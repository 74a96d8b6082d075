package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is the durable Store implementation backed by an embedded
// SQLite database in WAL mode. A daemon and a CLI invocation may have
// the file open at the same time; WAL plus the busy timeout keeps the
// writers from tripping over each other.
type SQLite struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the specified path.
//
// The parent directory is created if needed and the schema is applied
// idempotently. The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dataDir, "state.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &SQLite{conn: conn, path: path}

	// WAL mode lets the daemon read while a CLI invocation writes.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := st.initSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// Path returns the database file location.
func (st *SQLite) Path() string {
	return st.path
}

// Close checkpoints the WAL and closes the database connection.
func (st *SQLite) Close() error {
	if st.conn == nil {
		return nil
	}

	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}

	st.conn = nil
	return nil
}

func (st *SQLite) initSchema(ctx context.Context) error {
	// The composite primary key doubles as the scope-prefix index.
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		scope      TEXT NOT NULL,
		field      TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scope, field)
	);
	`

	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Save writes value under (scope, field), deleting the row when value
// is empty.
func (st *SQLite) Save(ctx context.Context, scope, field, value string) error {
	if value == "" {
		query := `DELETE FROM blobs WHERE scope = ? AND field = ?`
		if _, err := st.conn.ExecContext(ctx, query, scope, field); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", scope, field, err)
		}
		return nil
	}

	query := `
	INSERT INTO blobs (scope, field, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(scope, field) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`

	_, err := st.conn.ExecContext(ctx, query,
		scope, field, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save %s/%s: %w", scope, field, err)
	}
	return nil
}

// Load reads the value stored under (scope, field). Missing fields
// yield the empty string.
func (st *SQLite) Load(ctx context.Context, scope, field string) (string, error) {
	query := `SELECT value FROM blobs WHERE scope = ? AND field = ?`

	var value string
	err := st.conn.QueryRowContext(ctx, query, scope, field).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load %s/%s: %w", scope, field, err)
	}
	return value, nil
}

// Scopes returns the distinct scopes present in the database, useful
// for listing the ledgers this device has state for.
func (st *SQLite) Scopes(ctx context.Context) ([]string, error) {
	rows, err := st.conn.QueryContext(ctx, `SELECT DISTINCT scope FROM blobs ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scopes: %w", err)
	}
	return scopes, nil
}
