package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petrijr/relay/pkg/api"
)

// SQLiteStateStore is a StateStore backed by SQLite, one JSON document
// per workflow row.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStateStore struct {
	db *sql.DB
}

var _ api.StateStore = (*SQLiteStateStore)(nil)

// NewSQLiteStateStore initializes the required schema in the given
// database and returns a new SQLiteStateStore.
func NewSQLiteStateStore(db *sql.DB) (*SQLiteStateStore, error) {
	s := &SQLiteStateStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStateStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_state (
			workflow TEXT PRIMARY KEY,
			doc TEXT NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStateStore) loadDoc(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, workflow string) (map[string]any, error) {
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT doc FROM workflow_state WHERE workflow = ?`, workflow,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &api.StateCorruptError{
			Workflow: workflow,
			Path:     "sqlite:workflow_state/" + workflow,
			Err:      err,
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *SQLiteStateStore) saveDoc(ctx context.Context, tx *sql.Tx, workflow string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", workflow, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_state (workflow, doc) VALUES (?, ?)
		ON CONFLICT (workflow) DO UPDATE SET doc = excluded.doc`,
		workflow, string(raw),
	)
	return err
}

func (s *SQLiteStateStore) mutateDoc(ctx context.Context, workflow string, mutate func(map[string]any) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	doc, err := s.loadDoc(ctx, tx, workflow)
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}

	if err := s.saveDoc(ctx, tx, workflow, doc); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStateStore) Get(ctx context.Context, workflow, key string) (any, bool, error) {
	doc, err := s.loadDoc(ctx, s.db, workflow)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (s *SQLiteStateStore) Set(ctx context.Context, workflow, key string, value any) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		doc[key] = value
		return nil
	})
}

func (s *SQLiteStateStore) Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error {
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

func (s *SQLiteStateStore) Delete(ctx context.Context, workflow, key string) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		delete(doc, key)
		return nil
	})
}

func (s *SQLiteStateStore) All(ctx context.Context, workflow string) (map[string]any, error) {
	return s.loadDoc(ctx, s.db, workflow)
}

// SQLiteDraftStore is a DraftStore backed by SQLite, one row per draft.
// Update runs inside a transaction; SQLite's single-writer locking plus
// the transaction give the read-modify-write atomicity the contract
// requires.
type SQLiteDraftStore struct {
	db *sql.DB
}

var _ api.DraftStore = (*SQLiteDraftStore)(nil)

// NewSQLiteDraftStore initializes the required schema in the given
// database and returns a new SQLiteDraftStore.
func NewSQLiteDraftStore(db *sql.DB) (*SQLiteDraftStore, error) {
	s := &SQLiteDraftStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDraftStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS drafts (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL,
			ai_text TEXT NOT NULL,
			source_summary TEXT NOT NULL DEFAULT '',
			approved_at TIMESTAMP,
			dispatch_attempts INTEGER NOT NULL DEFAULT 0
		);`,
	)
	return err
}

const draftColumns = `id, created_at, status, ai_text, source_summary, approved_at, dispatch_attempts`

func scanDraft(row interface{ Scan(dest ...any) error }) (api.Draft, error) {
	var d api.Draft
	var status string
	var approvedAt sql.NullTime

	if err := row.Scan(&d.ID, &d.CreatedAt, &status, &d.AIText, &d.SourceSummary, &approvedAt, &d.DispatchAttempts); err != nil {
		return api.Draft{}, err
	}
	d.Status = api.DraftStatus(status)
	if approvedAt.Valid {
		t := approvedAt.Time
		d.ApprovedAt = &t
	}
	return d, nil
}

func (s *SQLiteDraftStore) List(ctx context.Context, status api.DraftStatus) ([]api.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
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

func (s *SQLiteDraftStore) Get(ctx context.Context, id string) (api.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id,
	)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Draft{}, &api.NotFoundError{ID: id}
	}
	return d, err
}

func (s *SQLiteDraftStore) Append(ctx context.Context, d api.Draft) error {
	var approvedAt sql.NullTime
	if d.ApprovedAt != nil {
		approvedAt = sql.NullTime{Time: *d.ApprovedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (`+draftColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CreatedAt, string(d.Status), d.AIText, d.SourceSummary, approvedAt, d.DispatchAttempts,
	)
	if err != nil && isUniqueViolation(err) {
		return api.ErrDraftExists
	}
	return err
}

func (s *SQLiteDraftStore) Update(ctx context.Context, id string, mutate func(*api.Draft) error) (api.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return api.Draft{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id,
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
		SET status = ?, ai_text = ?, source_summary = ?, approved_at = ?, dispatch_attempts = ?
		WHERE id = ?`,
		string(next.Status), next.AIText, next.SourceSummary, approvedAt, next.DispatchAttempts, next.ID,
	); err != nil {
		return api.Draft{}, err
	}

	if err := tx.Commit(); err != nil {
		return api.Draft{}, err
	}
	return next, nil
}

// SQLiteRunLogStore is an append-only RunLogStore backed by SQLite,
// one row per record keyed by (workflow, run_id, seq).
type SQLiteRunLogStore struct {
	db *sql.DB
}

var _ api.RunLogStore = (*SQLiteRunLogStore)(nil)

// NewSQLiteRunLogStore initializes the required schema in the given
// database and returns a new SQLiteRunLogStore.
func NewSQLiteRunLogStore(db *sql.DB) (*SQLiteRunLogStore, error) {
	s := &SQLiteRunLogStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunLogStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_logs (
			workflow TEXT NOT NULL,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			record TEXT NOT NULL,
			PRIMARY KEY (workflow, run_id, seq)
		);`,
	)
	return err
}

type sqliteLogHandle struct {
	store    *SQLiteRunLogStore
	workflow string
	runID    string
	nextSeq  int64
}

func (s *SQLiteRunLogStore) Open(workflow, runID string) (api.RunLogHandle, error) {
	var maxSeq sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(seq) FROM run_logs WHERE workflow = ? AND run_id = ?`,
		workflow, runID,
	).Scan(&maxSeq)
	if err != nil {
		return nil, err
	}

	next := int64(1)
	if maxSeq.Valid {
		next = maxSeq.Int64 + 1
	}
	return &sqliteLogHandle{store: s, workflow: workflow, runID: runID, nextSeq: next}, nil
}

func (h *sqliteLogHandle) Append(rec api.LogRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = h.store.db.Exec(`
		INSERT INTO run_logs (workflow, run_id, seq, record)
		VALUES (?, ?, ?, ?)`,
		h.workflow, h.runID, h.nextSeq, string(raw),
	)
	if err != nil {
		return err
	}
	h.nextSeq++
	return nil
}

func (h *sqliteLogHandle) Close() error { return nil }

func (s *SQLiteRunLogStore) Read(workflow, runID string) ([]api.LogRecord, error) {
	rows, err := s.db.Query(
		`SELECT record FROM run_logs WHERE workflow = ? AND run_id = ? ORDER BY seq`,
		workflow, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []api.LogRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec api.LogRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode run log %s/%s: %w", workflow, runID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// NewSQLiteStores initializes all three stores on the given database.
func NewSQLiteStores(db *sql.DB) (api.Stores, error) {
	logs, err := NewSQLiteRunLogStore(db)
	if err != nil {
		return api.Stores{}, err
	}
	state, err := NewSQLiteStateStore(db)
	if err != nil {
		return api.Stores{}, err
	}
	drafts, err := NewSQLiteDraftStore(db)
	if err != nil {
		return api.Stores{}, err
	}
	return api.Stores{RunLogs: logs, State: state, Drafts: drafts}, nil
}
