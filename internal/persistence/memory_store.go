package persistence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/petrijr/relay/pkg/api"
)

// cloneJSONValue deep-copies a state value through JSON, so callers
// can never alias the store's internal maps and slices. It also
// normalizes numbers to float64, the same shape the durable backends
// hand back.
func cloneJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NewMemoryStores returns a Stores bundle backed entirely by in-memory
// maps. Nothing is durable; intended for tests and local development.
func NewMemoryStores() api.Stores {
	return api.Stores{
		RunLogs: NewMemoryRunLogStore(),
		State:   NewMemoryStateStore(),
		Drafts:  NewMemoryDraftStore(),
	}
}

// MemoryRunLogStore is a goroutine-safe RunLogStore backed by maps.
type MemoryRunLogStore struct {
	mu   sync.RWMutex
	logs map[string][]api.LogRecord
}

var _ api.RunLogStore = (*MemoryRunLogStore)(nil)

func NewMemoryRunLogStore() *MemoryRunLogStore {
	return &MemoryRunLogStore{logs: make(map[string][]api.LogRecord)}
}

func logKey(workflow, runID string) string { return workflow + "/" + runID }

type memoryLogHandle struct {
	store *MemoryRunLogStore
	key   string
}

func (s *MemoryRunLogStore) Open(workflow, runID string) (api.RunLogHandle, error) {
	return &memoryLogHandle{store: s, key: logKey(workflow, runID)}, nil
}

func (h *memoryLogHandle) Append(rec api.LogRecord) error {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	h.store.logs[h.key] = append(h.store.logs[h.key], rec)
	return nil
}

func (h *memoryLogHandle) Close() error { return nil }

func (s *MemoryRunLogStore) Read(workflow, runID string) ([]api.LogRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.logs[logKey(workflow, runID)]
	out := make([]api.LogRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// MemoryStateStore is a goroutine-safe StateStore backed by maps.
type MemoryStateStore struct {
	mu    sync.RWMutex
	state map[string]map[string]any
}

var _ api.StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: make(map[string]map[string]any)}
}

func (s *MemoryStateStore) Get(ctx context.Context, workflow, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.state[workflow]
	if !ok {
		return nil, false, nil
	}
	v, ok := doc[key]
	if !ok {
		return nil, false, nil
	}
	out, err := cloneJSONValue(v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *MemoryStateStore) Set(ctx context.Context, workflow, key string, value any) error {
	stored, err := cloneJSONValue(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.state[workflow]
	if !ok {
		doc = make(map[string]any)
		s.state[workflow] = doc
	}
	doc[key] = stored
	return nil
}

func (s *MemoryStateStore) Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.state[workflow]
	if !ok {
		doc = make(map[string]any)
		s.state[workflow] = doc
	}

	cur, exists := doc[key]
	if exists {
		cloned, err := cloneJSONValue(cur)
		if err != nil {
			return err
		}
		cur = cloned
	}

	next, err := mutate(cur, exists)
	if err != nil {
		return err
	}
	stored, err := cloneJSONValue(next)
	if err != nil {
		return err
	}
	doc[key] = stored
	return nil
}

func (s *MemoryStateStore) Delete(ctx context.Context, workflow, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.state[workflow]; ok {
		delete(doc, key)
	}
	return nil
}

func (s *MemoryStateStore) All(ctx context.Context, workflow string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.state[workflow]))
	for k, v := range s.state[workflow] {
		cloned, err := cloneJSONValue(v)
		if err != nil {
			return nil, err
		}
		out[k] = cloned
	}
	return out, nil
}

// MemoryDraftStore is a goroutine-safe DraftStore backed by a map.
// All writers go through a single mutex, which gives Update the same
// whole-collection atomicity the durable backends provide.
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string]api.Draft
}

var _ api.DraftStore = (*MemoryDraftStore)(nil)

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string]api.Draft)}
}

func (s *MemoryDraftStore) List(ctx context.Context, status api.DraftStatus) ([]api.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []api.Draft
	for _, d := range s.drafts {
		if status != "" && d.Status != status {
			continue
		}
		result = append(result, d.Clone())
	}

	sortDraftsNewestFirst(result)
	return result, nil
}

func (s *MemoryDraftStore) Get(ctx context.Context, id string) (api.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drafts[id]
	if !ok {
		return api.Draft{}, &api.NotFoundError{ID: id}
	}
	return d.Clone(), nil
}

func (s *MemoryDraftStore) Append(ctx context.Context, d api.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drafts[d.ID]; ok {
		return api.ErrDraftExists
	}
	s.drafts[d.ID] = d.Clone()
	return nil
}

func (s *MemoryDraftStore) Update(ctx context.Context, id string, mutate func(*api.Draft) error) (api.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drafts[id]
	if !ok {
		return api.Draft{}, &api.NotFoundError{ID: id}
	}

	next := d.Clone()
	if err := mutate(&next); err != nil {
		return api.Draft{}, err
	}
	next.ID = d.ID // the ID is immutable

	s.drafts[id] = next
	return next.Clone(), nil
}

// sortDraftsNewestFirst orders drafts by CreatedAt descending, with ID
// as a tiebreaker so listings are stable.
func sortDraftsNewestFirst(drafts []api.Draft) {
	sort.SliceStable(drafts, func(i, j int) bool {
		if drafts[i].CreatedAt.Equal(drafts[j].CreatedAt) {
			return drafts[i].ID > drafts[j].ID
		}
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})
}
