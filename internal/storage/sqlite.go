package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mbetel/invochat/internal/invoice"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the invoice archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "invochat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// ArchiveBatch persists every record of an accepted batch in one
// transaction, keyed by the owner and the session that was created from it.
func (s *Store) ArchiveBatch(ownerID, sessionID string, records []invoice.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO invoices (id, owner_id, session_id, vendor_name, invoice_number, invoice_date, total_amount, record_json, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing archive statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, rec := range records {
		blob, err := json.Marshal(rec)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding invoice %s: %w", rec.InvoiceNumber, err)
		}
		var total any
		if rec.TotalAmount != nil {
			total = *rec.TotalAmount
		}
		if _, err := stmt.Exec(uuid.New().String(), ownerID, sessionID, rec.VendorName, rec.InvoiceNumber, rec.Date, total, string(blob), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("archiving invoice %s: %w", rec.InvoiceNumber, err)
		}
	}
	return tx.Commit()
}

// ListByOwner returns every archived invoice for an owner, oldest first.
func (s *Store) ListByOwner(ownerID string) ([]ArchivedInvoice, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, session_id, record_json, archived_at
		FROM invoices WHERE owner_id = ? ORDER BY archived_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()
	return scanArchived(rows)
}

// ListBySession returns the archived batch for one session, oldest first.
func (s *Store) ListBySession(sessionID string) ([]ArchivedInvoice, error) {
	rows, err := s.db.Query(`
		SELECT id, owner_id, session_id, record_json, archived_at
		FROM invoices WHERE session_id = ? ORDER BY archived_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying archive: %w", err)
	}
	defer rows.Close()
	return scanArchived(rows)
}

// Count returns the number of archived invoices for an owner.
func (s *Store) Count(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM invoices WHERE owner_id = ?", ownerID).Scan(&count)
	return count, err
}

func scanArchived(rows *sql.Rows) ([]ArchivedInvoice, error) {
	var result []ArchivedInvoice
	for rows.Next() {
		var a ArchivedInvoice
		var blob, archivedAt string
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.SessionID, &blob, &archivedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &a.Record); err != nil {
			return nil, fmt.Errorf("decoding invoice %s: %w", a.ID, err)
		}
		t, err := time.Parse(time.RFC3339, archivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing archived_at for %s: %w", a.ID, err)
		}
		a.ArchivedAt = t
		result = append(result, a)
	}
	return result, rows.Err()
}
