package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/tdn1104/swapmeet/internal/core/domain"
)

const mysqlDupEntry = 1062

// MySQLAdapter backs the remote document store: one row per listing or
// session document, JSON body plus a version column used for
// compare-and-set writes.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the documents table if missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id         VARCHAR(64)  NOT NULL,
			kind       VARCHAR(32)  NOT NULL,
			doc        JSON         NOT NULL,
			version    BIGINT       NOT NULL,
			updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (id)
		)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", classify(err))
	}
	return nil
}

// Apply writes one mutation with compare-and-set semantics: an insert
// conflicts if the document exists, an update conflicts unless the stored
// version matches the expected one.
func (m *MySQLAdapter) Apply(ctx context.Context, mut domain.PendingMutation) error {
	if !json.Valid(mut.Payload) {
		return fmt.Errorf("%w: mutation %s carries invalid JSON", domain.ErrMalformedPayload, mut.ID)
	}
	kind, err := docKind(mut.Kind)
	if err != nil {
		return err
	}

	if mut.ExpectedVersion == domain.InsertVersion {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO documents (id, kind, doc, version)
			VALUES (?, ?, ?, 0)`,
			mut.EntityID, kind, []byte(mut.Payload),
		)
		if err != nil {
			var me *mysql.MySQLError
			if errors.As(err, &me) && me.Number == mysqlDupEntry {
				return fmt.Errorf("%w: document %s already exists", domain.ErrConflict, mut.EntityID)
			}
			return fmt.Errorf("insert document: %w", classify(err))
		}
		return nil
	}

	result, err := m.db.ExecContext(ctx, `
		UPDATE documents
		SET doc = ?, version = ?
		WHERE id = ? AND version = ?`,
		[]byte(mut.Payload), mut.ExpectedVersion+1, mut.EntityID, mut.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", classify(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: document %s not at version %d", domain.ErrConflict, mut.EntityID, mut.ExpectedVersion)
	}
	return nil
}

// GetListing retrieves a listing document, nil if absent.
func (m *MySQLAdapter) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	doc, err := m.getDoc(ctx, id, "listing")
	if err != nil || doc == nil {
		return nil, err
	}

	var l domain.Listing
	if err := json.Unmarshal(doc, &l); err != nil {
		return nil, fmt.Errorf("%w: decode listing %s: %v", domain.ErrMalformedPayload, id, err)
	}
	return &l, nil
}

// GetSession retrieves a session document, nil if absent.
func (m *MySQLAdapter) GetSession(ctx context.Context, id string) (*domain.ExchangeSession, error) {
	doc, err := m.getDoc(ctx, id, "session")
	if err != nil || doc == nil {
		return nil, err
	}

	var s domain.ExchangeSession
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", domain.ErrMalformedPayload, id, err)
	}
	return &s, nil
}

func (m *MySQLAdapter) getDoc(ctx context.Context, id, kind string) ([]byte, error) {
	var doc []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT doc FROM documents WHERE id = ? AND kind = ?`, id, kind,
	).Scan(&doc)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", classify(err))
	}
	return doc, nil
}

func docKind(k domain.MutationKind) (string, error) {
	switch k {
	case domain.MutationPutListing:
		return "listing", nil
	case domain.MutationPutSession:
		return "session", nil
	default:
		return "", fmt.Errorf("%w: unknown mutation kind %q", domain.ErrMalformedPayload, k)
	}
}

// classify maps driver errors onto the transient/permanent split. Server
// errors are permanent; anything else (dial failures, timeouts, dropped
// connections) is transient and retried.
func classify(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
}
