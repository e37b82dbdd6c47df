/*
Package sqlite provides a SQLite-backed implementation of residency.Store.

PURPOSE:
  Persists subjects and their flight legs so the API can rebuild ledgers on
  demand. The engine itself never reads the database: handlers load a leg
  snapshot and pass it to the builder.

KEY TABLES:
  subjects: One row per traveller, created on first leg
  legs:     One row per flight, keyed by (subject_id, id)

TIMESTAMPS:
  Endpoint times are stored as text. Wall-clock readings (has_offset = 0)
  are stored without an offset, "2006-01-02T15:04:05", so that reading them
  back cannot shift them into another zone. Absolute instants are stored
  as RFC 3339 UTC.

INDEXES:
  - idx_legs_subject_departure: Legs(subject) ordered by departure

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers do not block the
  single writer.

USAGE:
  store, err := sqlite.New("./data/residency.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  legs, err := store.Legs(ctx, "alice")

SEE ALSO:
  - residency/store.go: Interface definition
  - residency/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

const wallLayout = "2006-01-02T15:04:05.999999999"

// Store implements residency.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Compile-time check
var _ residency.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath + "?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS legs (
		id TEXT NOT NULL,
		subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
		carrier TEXT,

		dep_country TEXT NOT NULL,
		dep_city TEXT,
		dep_airport TEXT,
		dep_timezone TEXT,
		dep_time TEXT NOT NULL,
		dep_has_offset INTEGER NOT NULL DEFAULT 0,

		arr_country TEXT NOT NULL,
		arr_city TEXT,
		arr_airport TEXT,
		arr_timezone TEXT,
		arr_time TEXT NOT NULL,
		arr_has_offset INTEGER NOT NULL DEFAULT 0,

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (subject_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_legs_subject_departure
		ON legs(subject_id, dep_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEGS (residency.Store interface)
// =============================================================================

// SaveLeg inserts or replaces a leg, creating the subject if needed.
func (s *Store) SaveLeg(ctx context.Context, leg residency.Leg) error {
	if leg.Subject == "" || leg.ID == "" {
		return fmt.Errorf("%w: subject and id are required", generic.ErrInvalidLeg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO subjects (id, created_at) VALUES (?, ?)`,
		leg.Subject, now,
	); err != nil {
		return fmt.Errorf("failed to save subject: %w", err)
	}

	query := `
		INSERT INTO legs
		(id, subject_id, carrier,
		 dep_country, dep_city, dep_airport, dep_timezone, dep_time, dep_has_offset,
		 arr_country, arr_city, arr_airport, arr_timezone, arr_time, arr_has_offset,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, id) DO UPDATE SET
			carrier = excluded.carrier,
			dep_country = excluded.dep_country, dep_city = excluded.dep_city,
			dep_airport = excluded.dep_airport, dep_timezone = excluded.dep_timezone,
			dep_time = excluded.dep_time, dep_has_offset = excluded.dep_has_offset,
			arr_country = excluded.arr_country, arr_city = excluded.arr_city,
			arr_airport = excluded.arr_airport, arr_timezone = excluded.arr_timezone,
			arr_time = excluded.arr_time, arr_has_offset = excluded.arr_has_offset,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, query,
		leg.ID, leg.Subject, nullString(leg.Carrier),
		leg.Departure.Country, leg.Departure.City, leg.Departure.Airport, leg.Departure.Timezone,
		formatTime(leg.Departure), leg.Departure.HasOffset,
		leg.Arrival.Country, leg.Arrival.City, leg.Arrival.Airport, leg.Arrival.Timezone,
		formatTime(leg.Arrival), leg.Arrival.HasOffset,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save leg: %w", err)
	}

	return tx.Commit()
}

// Legs returns the subject's legs ordered by departure.
func (s *Store) Legs(ctx context.Context, subject residency.SubjectID) ([]residency.Leg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, subject_id, carrier,
		       dep_country, dep_city, dep_airport, dep_timezone, dep_time, dep_has_offset,
		       arr_country, arr_city, arr_airport, arr_timezone, arr_time, arr_has_offset
		FROM legs
		WHERE subject_id = ?
		ORDER BY dep_time ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to query legs: %w", err)
	}
	defer rows.Close()

	legs := []residency.Leg{}
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	return legs, rows.Err()
}

// DeleteLeg removes one leg; a subject left with no legs is removed too.
func (s *Store) DeleteLeg(ctx context.Context, subject residency.SubjectID, id residency.LegID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM legs WHERE subject_id = ? AND id = ?`, subject, id)
	if err != nil {
		return fmt.Errorf("failed to delete leg: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrLegNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subjects WHERE id = ? AND NOT EXISTS (SELECT 1 FROM legs WHERE subject_id = ?)`,
		subject, subject,
	); err != nil {
		return fmt.Errorf("failed to prune subject: %w", err)
	}

	return tx.Commit()
}

// Subjects lists subjects with at least one leg.
func (s *Store) Subjects(ctx context.Context) ([]residency.SubjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM subjects WHERE EXISTS (SELECT 1 FROM legs WHERE subject_id = subjects.id) ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer rows.Close()

	subjects := []residency.SubjectID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, residency.SubjectID(id))
	}
	return subjects, rows.Err()
}

// Reset deletes every leg and subject.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM legs; DELETE FROM subjects;`); err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanLeg(row scanner) (residency.Leg, error) {
	var (
		leg                  residency.Leg
		id, subject          string
		carrier              sql.NullString
		depCity, depAirport  sql.NullString
		depZone, depTime     sql.NullString
		arrCity, arrAirport  sql.NullString
		arrZone, arrTime     sql.NullString
		depOffset, arrOffset bool
	)
	err := row.Scan(&id, &subject, &carrier,
		&leg.Departure.Country, &depCity, &depAirport, &depZone, &depTime, &depOffset,
		&leg.Arrival.Country, &arrCity, &arrAirport, &arrZone, &arrTime, &arrOffset,
	)
	if err != nil {
		return residency.Leg{}, fmt.Errorf("failed to scan leg: %w", err)
	}

	leg.ID = residency.LegID(id)
	leg.Subject = residency.SubjectID(subject)
	leg.Carrier = carrier.String
	leg.Departure.City, leg.Departure.Airport, leg.Departure.Timezone = depCity.String, depAirport.String, depZone.String
	leg.Arrival.City, leg.Arrival.Airport, leg.Arrival.Timezone = arrCity.String, arrAirport.String, arrZone.String
	leg.Departure.HasOffset, leg.Arrival.HasOffset = depOffset, arrOffset

	if leg.Departure.Time, err = parseTime(depTime.String, depOffset); err != nil {
		return residency.Leg{}, err
	}
	if leg.Arrival.Time, err = parseTime(arrTime.String, arrOffset); err != nil {
		return residency.Leg{}, err
	}
	return leg, nil
}

func formatTime(e residency.Endpoint) string {
	if e.HasOffset {
		return e.Time.UTC().Format(time.RFC3339Nano)
	}
	return e.Time.Format(wallLayout)
}

func parseTime(s string, hasOffset bool) (time.Time, error) {
	if hasOffset {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	}
	t, err := time.Parse(wallLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt wall time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
