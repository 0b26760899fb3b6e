package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/state"
)

// DefaultKeepRevisions is how many state revisions Save retains.
const DefaultKeepRevisions = 5

// StateRepo persists the state document as a chain of revisions. The newest
// revision is current; older ones are backups for a corrupt head.
type StateRepo struct {
	db     *sql.DB
	keep   int
	logger zerolog.Logger
}

// Load returns the newest decodable revision. A missing document yields
// state.Default(). The result carries the id of the newest stored row as its
// Revision, even when that row was undecodable.
func (r *StateRepo) Load(ctx context.Context) (*state.State, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, data FROM state_revisions ORDER BY id DESC LIMIT ?`, r.keep)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	defer rows.Close()

	var head int64
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, &PersistenceError{Op: "load", Err: err}
		}
		if head == 0 {
			head = id
		}

		var st state.State
		if err := json.Unmarshal(data, &st); err != nil {
			r.logger.Warn().Err(err).Int64("revision", id).Msg("state revision undecodable, trying previous")
			continue
		}
		st.Normalize()
		st.Revision = head
		return &st, nil
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	st := state.Default()
	st.Revision = head
	return st, nil
}

// Save writes st as the newest revision and prunes old ones in one
// transaction. The write only lands if the newest stored revision is still
// st.Revision; otherwise Save returns a PersistenceError wrapping
// ErrStaleState and nothing is written. On success st.Revision is advanced.
func (r *StateRepo) Save(ctx context.Context, st *state.State) error {
	return r.save(ctx, st, false)
}

func (r *StateRepo) save(ctx context.Context, st *state.State, force bool) error {
	st.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("encode state: %w", err)}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	var res sql.Result
	if force {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO state_revisions (version, saved_at, data) VALUES (?, ?, ?)`,
			st.Version, st.UpdatedAt, data)
	} else {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO state_revisions (version, saved_at, data)
			SELECT ?, ?, ?
			WHERE COALESCE((SELECT MAX(id) FROM state_revisions), 0) = ?`,
			st.Version, st.UpdatedAt, data, st.Revision)
	}
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if n, err := res.RowsAffected(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	} else if n == 0 {
		r.logger.Warn().Int64("revision", st.Revision).Msg("state revision is stale, refusing to overwrite")
		return &PersistenceError{Op: "save", Err: ErrStaleState}
	}
	revision, err := res.LastInsertId()
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM state_revisions WHERE id NOT IN (
			SELECT id FROM state_revisions ORDER BY id DESC LIMIT ?
		)`, r.keep); err != nil {
		return &PersistenceError{Op: "save", Err: fmt.Errorf("prune revisions: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	st.Revision = revision
	return nil
}

// Reset replaces the current state with state.Default() regardless of the
// stored head.
func (r *StateRepo) Reset(ctx context.Context) error {
	return r.save(ctx, state.Default(), true)
}
