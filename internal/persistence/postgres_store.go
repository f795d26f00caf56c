package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petrijr/relay/pkg/api"
)

// PostgresStateStore is a StateStore backed by PostgreSQL, one JSONB
// document per workflow row.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// and providing a DSN via sql.Open.
type PostgresStateStore struct {
	db *sql.DB
}

var _ api.StateStore = (*PostgresStateStore)(nil)

// NewPostgresStateStore initializes the required schema in the given
// database and returns a new PostgresStateStore.
func NewPostgresStateStore(db *sql.DB) (*PostgresStateStore, error) {
	s := &PostgresStateStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStateStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_state (
			workflow TEXT PRIMARY KEY,
			doc JSONB NOT NULL
		);
	`)
	return err
}

func (s *PostgresStateStore) loadDoc(ctx context.Context, workflow string, forUpdate bool, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (map[string]any, error) {
	query := `SELECT doc FROM workflow_state WHERE workflow = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var raw []byte
	err := q.QueryRowContext(ctx, query, workflow).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &api.StateCorruptError{
			Workflow: workflow,
			Path:     "postgres:workflow_state/" + workflow,
			Err:      err,
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *PostgresStateStore) mutateDoc(ctx context.Context, workflow string, mutate func(map[string]any) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Make sure the row exists so FOR UPDATE has something to lock;
	// otherwise two first writers would both read an empty document.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_state (workflow, doc) VALUES ($1, '{}')
		ON CONFLICT (workflow) DO NOTHING`,
		workflow,
	); err != nil {
		return err
	}

	doc, err := s.loadDoc(ctx, workflow, true, tx)
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", workflow, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_state (workflow, doc) VALUES ($1, $2)
		ON CONFLICT (workflow) DO UPDATE SET doc = EXCLUDED.doc`,
		workflow, raw,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStateStore) Get(ctx context.Context, workflow, key string) (any, bool, error) {
	doc, err := s.loadDoc(ctx, workflow, false, s.db)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (s *PostgresStateStore) Set(ctx context.Context, workflow, key string, value any) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		doc[key] = value
		return nil
	})
}

func (s *PostgresStateStore) Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		v, ok := doc[key]
		next, err := mutate(v, ok)
		if err != nil {
			return err
		}
		doc[key] = next
		return nil
	})
}

func (s *PostgresStateStore) Delete(ctx context.Context, workflow, key string) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		delete(doc, key)
		return nil
	})
}

func (s *PostgresStateStore) All(ctx context.Context, workflow string) (map[string]any, error) {
	return s.loadDoc(ctx, workflow, false, s.db)
}

// PostgresDraftStore is a DraftStore backed by PostgreSQL, one row per
// draft. Update takes a row lock (SELECT ... FOR UPDATE) inside a
// transaction, which serializes concurrent writers on the same draft
// and keeps unrelated rows untouched.
type PostgresDraftStore struct {
	db *sql.DB
}

var _ api.DraftStore = (*PostgresDraftStore)(nil)

// NewPostgresDraftStore initializes the required schema in the given
// database and returns a new PostgresDraftStore.
func NewPostgresDraftStore(db *sql.DB) (*PostgresDraftStore, error) {
	s := &PostgresDraftStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresDraftStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			ai_text TEXT NOT NULL,
			source_summary TEXT NOT NULL DEFAULT '',
			approved_at TIMESTAMPTZ,
			dispatch_attempts INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (s *PostgresDraftStore) List(ctx context.Context, status api.DraftStatus) ([]api.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *PostgresDraftStore) Get(ctx context.Context, id string) (api.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1`, id,
	)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Draft{}, &api.NotFoundError{ID: id}
	}
	return d, err
}

func (s *PostgresDraftStore) Append(ctx context.Context, d api.Draft) error {
	var approvedAt sql.NullTime
	if d.ApprovedAt != nil {
		approvedAt = sql.NullTime{Time: *d.ApprovedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (`+draftColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.CreatedAt, string(d.Status), d.AIText, d.SourceSummary, approvedAt, d.DispatchAttempts,
	)
	if err != nil && isUniqueViolation(err) {
		return api.ErrDraftExists
	}
	return err
}

func (s *PostgresDraftStore) Update(ctx context.Context, id string, mutate func(*api.Draft) error) (api.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.Draft{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = $1 FOR UPDATE`, id,
	)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Draft{}, &api.NotFoundError{ID: id}
	}
	if err != nil {
		return api.Draft{}, err
	}

	next := d.Clone()
	if err := mutate(&next); err != nil {
		return api.Draft{}, err
	}
	next.ID = d.ID // the ID is immutable

	var approvedAt sql.NullTime
	if next.ApprovedAt != nil {
		approvedAt = sql.NullTime{Time: *next.ApprovedAt, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE drafts
		SET status = $1, ai_text = $2, source_summary = $3, approved_at = $4, dispatch_attempts = $5
		WHERE id = $6`,
		string(next.Status), next.AIText, next.SourceSummary, approvedAt, next.DispatchAttempts, next.ID,
	); err != nil {
		return api.Draft{}, err
	}

	if err := tx.Commit(); err != nil {
		return api.Draft{}, err
	}
	return next, nil
}
