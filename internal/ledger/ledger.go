package ledger

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stamped into PRAGMA user_version. Bump it together with
// any change to schema.sql that an older binary could not read.
const schemaVersion = 1

var (
	// ErrNotFound is returned when a requested pass does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSchemaVersion is returned by Open for a ledger written by a newer
	// release.
	ErrSchemaVersion = errors.New("unsupported ledger schema version")
)

// Ledger records reconciliation passes, per-minute outcomes and the file
// set each minute had when it was last reconciled.
type Ledger struct {
	db *sql.DB
}

// connParams are applied by the driver to every connection it opens.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// Open opens the ledger at path, creating it if needed. Reopening an
// existing ledger is safe.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// One writer at a time; a single connection also keeps the
	// connection-scoped pragmas in force.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func initSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: %d (this build reads up to %d)", ErrSchemaVersion, version, schemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if version < schemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma has the expected value.
func (l *Ledger) verifyPragma(name, expected string) error {
	var value string
	if err := l.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
