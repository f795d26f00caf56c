package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/relay/pkg/api"
)

// maxCASRetries bounds the optimistic WATCH/MULTI loop. Contention on
// these keys is a handful of cooperating processes, not a hot path.
const maxCASRetries = 16

// RedisStateStore is a StateStore backed by Redis. Each workflow's
// state lives in a single JSON document at <prefix>state:<workflow>;
// writers use a WATCH/MULTI compare-and-swap loop so a concurrent write
// never clobbers another's committed document mid-merge.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

var _ api.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore creates a RedisStateStore.
// prefix is optional but recommended (e.g. "relay:").
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "relay:"
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(workflow string) string {
	return s.prefix + "state:" + workflow
}

func (s *RedisStateStore) load(ctx context.Context, c redis.Cmdable, workflow string) (map[string]any, error) {
	raw, err := c.Get(ctx, s.key(workflow)).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &api.StateCorruptError{Workflow: workflow, Path: s.key(workflow), Err: err}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *RedisStateStore) mutateDoc(ctx context.Context, workflow string, mutate func(map[string]any) error) error {
	key := s.key(workflow)

	txn := func(tx *redis.Tx) error {
		doc, err := s.load(ctx, tx, workflow)
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

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("state write for %s: too much contention", workflow)
}

func (s *RedisStateStore) Get(ctx context.Context, workflow, key string) (any, bool, error) {
	doc, err := s.load(ctx, s.client, workflow)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

func (s *RedisStateStore) Set(ctx context.Context, workflow, key string, value any) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		doc[key] = value
		return nil
	})
}

func (s *RedisStateStore) Update(ctx context.Context, workflow, key string, mutate func(value any, ok bool) (any, error)) error {
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

func (s *RedisStateStore) Delete(ctx context.Context, workflow, key string) error {
	return s.mutateDoc(ctx, workflow, func(doc map[string]any) error {
		delete(doc, key)
		return nil
	})
}

func (s *RedisStateStore) All(ctx context.Context, workflow string) (map[string]any, error) {
	return s.load(ctx, s.client, workflow)
}

// RedisDraftStore is a DraftStore backed by Redis. The whole draft
// collection lives in one JSON document at <prefix>drafts, mirroring
// the file backend's single-document layout; all mutations go through
// the same WATCH/MULTI compare-and-swap loop.
type RedisDraftStore struct {
	client *redis.Client
	prefix string
}

var _ api.DraftStore = (*RedisDraftStore)(nil)

// NewRedisDraftStore creates a RedisDraftStore.
// prefix is optional but recommended (e.g. "relay:").
func NewRedisDraftStore(client *redis.Client, prefix string) *RedisDraftStore {
	if prefix == "" {
		prefix = "relay:"
	}
	return &RedisDraftStore{client: client, prefix: prefix}
}

func (s *RedisDraftStore) key() string { return s.prefix + "drafts" }

func (s *RedisDraftStore) load(ctx context.Context, c redis.Cmdable) (draftsDoc, error) {
	raw, err := c.Get(ctx, s.key()).Result()
	if errors.Is(err, redis.Nil) {
		return draftsDoc{}, nil
	}
	if err != nil {
		return draftsDoc{}, err
	}

	var doc draftsDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return draftsDoc{}, &api.StateCorruptError{Workflow: "drafts", Path: s.key(), Err: err}
	}
	return doc, nil
}

// mutateDoc applies mutate to the collection document under CAS.
// A nil/zero draftsDoc returned from mutate aborts without writing.
func (s *RedisDraftStore) mutateDoc(ctx context.Context, mutate func(*draftsDoc) error) error {
	key := s.key()

	txn := func(tx *redis.Tx) error {
		doc, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if err := mutate(&doc); err != nil {
			return err
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode drafts: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxCASRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return errors.New("draft write: too much contention")
}

func (s *RedisDraftStore) List(ctx context.Context, status api.DraftStatus) ([]api.Draft, error) {
	doc, err := s.load(ctx, s.client)
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

func (s *RedisDraftStore) Get(ctx context.Context, id string) (api.Draft, error) {
	doc, err := s.load(ctx, s.client)
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

func (s *RedisDraftStore) Append(ctx context.Context, d api.Draft) error {
	return s.mutateDoc(ctx, func(doc *draftsDoc) error {
		for _, existing := range doc.Drafts {
			if existing.ID == d.ID {
				return api.ErrDraftExists
			}
		}
		doc.Drafts = append(doc.Drafts, d.Clone())
		return nil
	})
}

func (s *RedisDraftStore) Update(ctx context.Context, id string, mutate func(*api.Draft) error) (api.Draft, error) {
	var updated api.Draft
	err := s.mutateDoc(ctx, func(doc *draftsDoc) error {
		for i, d := range doc.Drafts {
			if d.ID != id {
				continue
			}

			next := d.Clone()
			if err := mutate(&next); err != nil {
				return err
			}
			next.ID = d.ID // the ID is immutable

			doc.Drafts[i] = next
			updated = next.Clone()
			return nil
		}
		return &api.NotFoundError{ID: id}
	})
	if err != nil {
		return api.Draft{}, err
	}
	return updated, nil
}
