package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

// SQLiteAdapter is the durable local mutation log behind the sync queue.
// Unflushed entries survive process restart and replay in original order.
type SQLiteAdapter struct {
	db *sql.DB
}

func OpenSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer at a time
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_mutations (
			id               TEXT    PRIMARY KEY,
			entity_id        TEXT    NOT NULL,
			kind             TEXT    NOT NULL,
			payload          BLOB    NOT NULL,
			seq              INTEGER NOT NULL,
			expected_version INTEGER NOT NULL,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			last_attempt     TIMESTAMP,
			created_at       TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pending_entity_seq
			ON pending_mutations (entity_id, seq)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create mutation log schema: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

func (s *SQLiteAdapter) Close() error {
	return s.db.Close()
}

// Append stores the given mutations in one transaction.
func (s *SQLiteAdapter) Append(ctx context.Context, ms ...domain.PendingMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, m := range ms {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_mutations
				(id, entity_id, kind, payload, seq, expected_version, retry_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.EntityID, string(m.Kind), []byte(m.Payload),
			m.Seq, m.ExpectedVersion, m.RetryCount, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert mutation %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// Pending returns all unflushed mutations ordered by entity id, then seq.
func (s *SQLiteAdapter) Pending(ctx context.Context) ([]domain.PendingMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, kind, payload, seq, expected_version, retry_count, last_attempt, created_at
		FROM pending_mutations
		ORDER BY entity_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingMutation
	for rows.Next() {
		var m domain.PendingMutation
		var kind string
		var payload []byte
		var lastAttempt sql.NullTime
		if err := rows.Scan(&m.ID, &m.EntityID, &kind, &payload, &m.Seq,
			&m.ExpectedVersion, &m.RetryCount, &lastAttempt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		m.Kind = domain.MutationKind(kind)
		m.Payload = payload
		if lastAttempt.Valid {
			m.LastAttempt = lastAttempt.Time
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkAttempt records a failed delivery attempt.
func (s *SQLiteAdapter) MarkAttempt(ctx context.Context, id string, retryCount int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_mutations SET retry_count = ?, last_attempt = ? WHERE id = ?`,
		retryCount, at, id)
	if err != nil {
		return fmt.Errorf("mark attempt: %w", err)
	}
	return nil
}

// Remove deletes a confirmed or dropped mutation.
func (s *SQLiteAdapter) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove mutation: %w", err)
	}
	return nil
}
