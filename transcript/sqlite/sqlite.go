// Package sqlite provides the SQLite-backed transcript store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"github.com/loremind/loremind/core"
)

// Store persists transcripts in a single SQLite database, one row per turn,
// keyed by (user_id, seq).
type Store struct {
	db   *sql.DB
	seed []core.Turn
}

// New opens or creates the transcript database at path and returns a store
// that seeds new transcripts with the given system-framing pair.
func New(path string, seed []core.Turn) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}

	// A single connection keeps :memory: databases coherent and lets SQLite
	// serialize writers instead of surfacing SQLITE_BUSY to us.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, seed: seed}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate transcript db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		user_id TEXT    NOT NULL,
		seq     INTEGER NOT NULL,
		role    TEXT    NOT NULL,
		text    TEXT    NOT NULL,
		PRIMARY KEY (user_id, seq)
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Ensure returns the user's transcript, creating the seeded one inside a
// single transaction if it does not exist yet.
func (s *Store) Ensure(ctx context.Context, userID string) ([]core.Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin ensure: %v", core.ErrStoreUnavailable, err)
	}
	created, err := s.seedTx(ctx, tx, userID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit ensure: %v", core.ErrStoreUnavailable, err)
	}
	if created {
		log.Printf("[TRANSCRIPT] Seeded new transcript for user %s", userID)
	}
	return s.Snapshot(ctx, userID)
}

// seedTx inserts the seed pair if the user has no turns. Runs inside the
// caller's transaction so check and create are one atomic step.
func (s *Store) seedTx(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM turns WHERE user_id = ?)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: check transcript: %v", core.ErrStoreUnavailable, err)
	}
	if exists {
		return false, nil
	}
	for i, t := range s.seed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (user_id, seq, role, text) VALUES (?, ?, ?, ?)`,
			userID, i, string(t.Role), t.Text); err != nil {
			return false, fmt.Errorf("%w: seed transcript: %v", core.ErrStoreUnavailable, err)
		}
	}
	return true, nil
}

// Append adds one turn after the current maximum sequence, seeding the
// transcript first if this is the user's first access.
func (s *Store) Append(ctx context.Context, userID string, turn core.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin append: %v", core.ErrStoreUnavailable, err)
	}
	if _, err := s.seedTx(ctx, tx, userID); err != nil {
		tx.Rollback()
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (user_id, seq, role, text)
		 VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE user_id = ?), ?, ?)`,
		userID, userID, string(turn.Role), turn.Text)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: append turn: %v", core.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit append: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Rewrite replaces the user's transcript wholesale.
func (s *Store) Rewrite(ctx context.Context, userID string, turns []core.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin rewrite: %v", core.ErrStoreUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID); err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: clear transcript: %v", core.ErrStoreUnavailable, err)
	}
	for i, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (user_id, seq, role, text) VALUES (?, ?, ?, ?)`,
			userID, i, string(t.Role), t.Text); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: rewrite turn %d: %v", core.ErrStoreUnavailable, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit rewrite: %v", core.ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot returns the user's turns in append order.
func (s *Store) Snapshot(ctx context.Context, userID string) ([]core.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, text FROM turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var turns []core.Turn
	for rows.Next() {
		var role, text string
		if err := rows.Scan(&role, &text); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", core.ErrStoreUnavailable, err)
		}
		turns = append(turns, core.Turn{Role: core.Role(role), Text: text})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: snapshot rows: %v", core.ErrStoreUnavailable, err)
	}
	return turns, nil
}

// Reset replaces the user's transcript with a fresh seeded one.
func (s *Store) Reset(ctx context.Context, userID string) error {
	if err := s.Rewrite(ctx, userID, s.seed); err != nil {
		return err
	}
	log.Printf("[TRANSCRIPT] Reset transcript for user %s", userID)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
