package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/majorcontext/authprofiles/internal/credential"
	_ "modernc.org/sqlite" // SQLite driver registration
)

// ErrBrokenChain is matched by every *ChainError.
var ErrBrokenChain = errors.New("journal chain broken")

// ChainError reports the first event that fails verification.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("journal chain broken at seq %d: %s", e.Seq, e.Reason)
}

func (e *ChainError) Is(target error) bool {
	return target == ErrBrokenChain
}

// Journal is an append-only event log shared by every process using the
// same file. Appends run in immediate transactions so concurrent writers
// extend the chain one at a time.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal tables: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			seq        INTEGER PRIMARY KEY,
			ts         TEXT NOT NULL,
			id         TEXT NOT NULL,
			profile_id TEXT NOT NULL,
			provider   TEXT NOT NULL,
			kind       TEXT NOT NULL,
			detail     TEXT NOT NULL,
			prev_hash  TEXT NOT NULL,
			hash       TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS idx_events_profile ON events(profile_id);
	`)
	return err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records an event. Seq, Time, ID and the hashes are assigned here.
func (j *Journal) Append(ctx context.Context, e Event) (*Event, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning journal transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var lastSeq uint64
	var lastHash string
	err = tx.QueryRowContext(ctx, `SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading last event: %w", err)
	}

	e.Seq = lastSeq + 1
	e.Time = j.now().UTC()
	e.ID = uuid.NewString()
	e.PrevHash = lastHash
	e.Hash = e.computeHash()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (seq, ts, id, profile_id, provider, kind, detail, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Seq, e.Time.Format(time.RFC3339Nano), e.ID, e.ProfileID, string(e.Provider),
		string(e.Kind), e.Detail, e.PrevHash, e.Hash)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing event: %w", err)
	}
	return &e, nil
}

// Recent returns up to limit events, newest first. An empty profileID
// returns events of every profile.
func (j *Journal) Recent(ctx context.Context, profileID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT seq, ts, id, profile_id, provider, kind, detail, prev_hash, hash FROM events`
	args := []any{}
	if profileID != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, profileID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Count returns the number of events.
func (j *Journal) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Verify walks the whole chain and returns the number of events checked.
func (j *Journal) Verify(ctx context.Context) (uint64, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT seq, ts, id, profile_id, provider, kind, detail, prev_hash, hash FROM events ORDER BY seq`)
	if err != nil {
		return 0, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return 0, err
	}

	var prev string
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			return uint64(i), &ChainError{Seq: uint64(i + 1), Reason: fmt.Sprintf("missing event (next is seq %d)", e.Seq)}
		}
		if e.PrevHash != prev {
			return uint64(i), &ChainError{Seq: e.Seq, Reason: "previous hash does not match"}
		}
		if !e.Valid() {
			return uint64(i), &ChainError{Seq: e.Seq, Reason: "content does not match hash"}
		}
		prev = e.Hash
	}
	return uint64(len(events)), nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts, provider, kind string
		if err := rows.Scan(&e.Seq, &ts, &e.ID, &e.ProfileID, &provider, &kind, &e.Detail, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event %d timestamp: %w", e.Seq, err)
		}
		e.Time = t
		e.Provider = credential.Provider(provider)
		e.Kind = Kind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}
