package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/petrijr/relay/pkg/api"
)

// writeFileAtomic writes data to path by writing a temporary file in the
// same directory and renaming it over the target. A reader concurrent
// with a crash mid-write sees either the old document or the new one,
// never a truncated mix.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// sanitizeName keeps workflow/run names safe to use as path components.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// FileStateStore is a StateStore keeping one JSON document per workflow
// under dir. Writes replace the whole document atomically; in-process
// writers are serialized by a mutex, and cross-process writers race at
// the rename with last-committed-wins semantics.
type FileStateStore struct {
	dir string
	mu  namedMutexes
}

var _ api.StateStore = (*FileStateStore)(nil)

// NewFileStateStore creates a FileStateStore rooted at dir.
func NewFileStateStore(dir string) *FileStateStore {
	return &FileStateStore{dir: dir}
}

func (s *FileStateStore) path(workflow string) string {
	return filepath.Join(s.dir, sanitizeName(workflow)+".json")
}

func (s *FileStateStore) load(workflow string) (map[string]any, error) {
	path := s.path(workflow)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// First-ever read for an unknown workflow.
			return map[string]any{}, nil
		}
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &api.StateCorruptError{Workflow: workflow, Path: path, Err: err}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *FileStateStore) save(workflow string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", workflow, err)
	}
	return writeFileAtomic(s.path(workflow), data)
}

func (s *FileStateStore) Get(ctx context.Context, workflow, key string) (any, bool, error) {
	doc, err := s.load(workflow)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

// mutateDoc runs mutate on the workflow's document while holding its
// writer mutex, then persists the result. mutate returning false skips
// the write.
func (s *FileStateStore) mutateDoc(workflow string, mutate func(doc map[string]any) (bool, error)) error {
	unlock := s.mu.lock(workflow)
	defer unlock()

	doc, err := s.load(workflow)
	if err != nil {
		return err
	}
	dirty, err := mutate(doc)
	if err != nil {
		return err
	}
	if !dirty {
		return nil
	}
	return s.save(workflow, doc)
}

func (s *FileStateStore) Set(ctx context.Context, workflow, key string, value any) error {
	return s.mutateDoc(workflow, func(doc map[string]any) (bool, error) {
		doc[key] = value
		return true, nil
	})
}

func (s *FileStateStore) Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error {
	return s.mutateDoc(workflow, func(doc map[string]any) (bool, error) {
		v, ok := doc[key]
		next, err := mutate(v, ok)
		if err != nil {
			return false, err
		}
		doc[key] = next
		return true, nil
	})
}

func (s *FileStateStore) Delete(ctx context.Context, workflow, key string) error {
	return s.mutateDoc(workflow, func(doc map[string]any) (bool, error) {
		if _, ok := doc[key]; !ok {
			return false, nil
		}
		delete(doc, key)
		return true, nil
	})
}

func (s *FileStateStore) All(ctx context.Context, workflow string) (map[string]any, error) {
	return s.load(workflow)
}

// FileDraftStore is a DraftStore keeping the whole draft collection in
// a single JSON document, replaced atomically on every write. Writers
// are serialized on one mutex because the document, not the draft, is
// the unit of durability.
type FileDraftStore struct {
	path string
	mu   namedMutexes
}

var _ api.DraftStore = (*FileDraftStore)(nil)

// draftsDoc is the on-disk shape of the collection.
type draftsDoc struct {
	Drafts []api.Draft `json:"drafts"`
}

// NewFileDraftStore creates a FileDraftStore persisting to the given
// file path (conventionally <dir>/drafts.json).
func NewFileDraftStore(path string) *FileDraftStore {
	return &FileDraftStore{path: path}
}

func (s *FileDraftStore) load() (draftsDoc, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return draftsDoc{}, nil
		}
		return draftsDoc{}, err
	}

	var doc draftsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return draftsDoc{}, &api.StateCorruptError{Workflow: "drafts", Path: s.path, Err: err}
	}
	return doc, nil
}

func (s *FileDraftStore) save(doc draftsDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode drafts: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

func (s *FileDraftStore) List(ctx context.Context, status api.DraftStatus) ([]api.Draft, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	var result []api.Draft
	for _, d := range doc.Drafts {
		if status != "" && d.Status != status {
			continue
		}
		result = append(result, d.Clone())
	}
	sortDraftsNewestFirst(result)
	return result, nil
}

func (s *FileDraftStore) Get(ctx context.Context, id string) (api.Draft, error) {
	doc, err := s.load()
	if err != nil {
		return api.Draft{}, err
	}
	for _, d := range doc.Drafts {
		if d.ID == id {
			return d.Clone(), nil
		}
	}
	return api.Draft{}, &api.NotFoundError{ID: id}
}

func (s *FileDraftStore) Append(ctx context.Context, d api.Draft) error {
	unlock := s.mu.lock("drafts")
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range doc.Drafts {
		if existing.ID == d.ID {
			return api.ErrDraftExists
		}
	}
	doc.Drafts = append(doc.Drafts, d.Clone())
	return s.save(doc)
}

func (s *FileDraftStore) Update(ctx context.Context, id string, mutate func(*api.Draft) error) (api.Draft, error) {
	unlock := s.mu.lock("drafts")
	defer unlock()

	doc, err := s.load()
	if err != nil {
		return api.Draft{}, err
	}

	for i, d := range doc.Drafts {
		if d.ID != id {
			continue
		}

		next := d.Clone()
		if err := mutate(&next); err != nil {
			return api.Draft{}, err
		}
		next.ID = d.ID // the ID is immutable

		doc.Drafts[i] = next
		if err := s.save(doc); err != nil {
			return api.Draft{}, err
		}
		return next.Clone(), nil
	}

	return api.Draft{}, &api.NotFoundError{ID: id}
}

// FileRunLogStore appends run log records as JSON lines, one file per
// (workflow, run ID). Opening an existing log appends; it never
// rewrites or truncates prior records.
type FileRunLogStore struct {
	dir string
}

var _ api.RunLogStore = (*FileRunLogStore)(nil)

// NewFileRunLogStore creates a FileRunLogStore rooted at dir.
func NewFileRunLogStore(dir string) *FileRunLogStore {
	return &FileRunLogStore{dir: dir}
}

func (s *FileRunLogStore) path(workflow, runID string) string {
	return filepath.Join(s.dir, sanitizeName(workflow), sanitizeName(runID)+".jsonl")
}

type fileLogHandle struct {
	f *os.File
}

func (s *FileRunLogStore) Open(workflow, runID string) (api.RunLogHandle, error) {
	path := s.path(workflow, runID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileLogHandle{f: f}, nil
}

func (h *fileLogHandle) Append(rec api.LogRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = h.f.Write(append(data, '\n'))
	return err
}

func (h *fileLogHandle) Close() error {
	if err := h.f.Sync(); err != nil {
		h.f.Close()
		return err
	}
	return h.f.Close()
}

func (s *FileRunLogStore) Read(workflow, runID string) ([]api.LogRecord, error) {
	data, err := os.ReadFile(s.path(workflow, runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []api.LogRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec api.LogRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode run log %s/%s: %w", workflow, runID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// NewFileStores returns a Stores bundle rooted at dir, using the
// conventional layout: logs/ for run logs, state/ for workflow state,
// drafts.json for the draft collection.
func NewFileStores(dir string) api.Stores {
	return api.Stores{
		RunLogs: NewFileRunLogStore(filepath.Join(dir, "logs")),
		State:   NewFileStateStore(filepath.Join(dir, "state")),
		Drafts:  NewFileDraftStore(filepath.Join(dir, "drafts.json")),
	}
}
