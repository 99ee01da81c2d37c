package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Isagog/copertinefull/internal/store"
)

type document struct {
	props map[string]any
	seq   uint64
}

// DocumentStore is an in-memory store.Client for development and tests.
type DocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]document
	seq         uint64
}

var _ store.Client = (*DocumentStore)(nil)

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{collections: make(map[string]map[string]document)}
}

// EnsureCollection creates the collection map.
func (s *DocumentStore) EnsureCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(collection)
	return nil
}

// QueryByField returns documents whose string property field equals value.
func (s *DocumentStore) QueryByField(_ context.Context, collection, field, value string, limit int) ([]store.Object, error) {
	return s.filter(collection, limit, func(props map[string]any) bool {
		v, ok := props[field].(string)
		return ok && v == value
	}), nil
}

// QueryByRange returns documents whose property lies in r, sorted by it.
func (s *DocumentStore) QueryByRange(_ context.Context, collection string, r store.Range, limit int) ([]store.Object, error) {
	if r.Field == "" {
		return nil, fmt.Errorf("range field is required")
	}
	matches := s.filter(collection, 0, func(props map[string]any) bool {
		v, ok := props[r.Field].(string)
		if !ok {
			return false
		}
		return (r.GTE == "" || v >= r.GTE) && (r.LTE == "" || v <= r.LTE)
	})
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i].String(r.Field), matches[j].String(r.Field)
		if r.Order == store.Descending {
			return a > b
		}
		return a < b
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// List returns up to limit documents in insertion order.
func (s *DocumentStore) List(_ context.Context, collection string, limit int) ([]store.Object, error) {
	return s.filter(collection, limit, func(map[string]any) bool { return true }), nil
}

// Insert stores properties under id; an existing id yields store.ErrConflict.
func (s *DocumentStore) Insert(_ context.Context, collection, id string, properties map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collectionLocked(collection)
	if _, exists := docs[id]; exists {
		return "", fmt.Errorf("insert %s: %w", id, store.ErrConflict)
	}
	s.seq++
	docs[id] = document{props: cloneProps(properties), seq: s.seq}
	return id, nil
}

// Replace overwrites an existing document.
func (s *DocumentStore) Replace(_ context.Context, collection, id string, properties map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collectionLocked(collection)
	doc, exists := docs[id]
	if !exists {
		return fmt.Errorf("replace %s: %w", id, store.ErrNotFound)
	}
	doc.props = cloneProps(properties)
	docs[id] = doc
	return nil
}

// DeleteByID removes a document.
func (s *DocumentStore) DeleteByID(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collectionLocked(collection)
	if _, exists := docs[id]; !exists {
		return fmt.Errorf("delete %s: %w", id, store.ErrNotFound)
	}
	delete(docs, id)
	return nil
}

// Close is a no-op.
func (s *DocumentStore) Close() {}

// Count returns the number of documents in collection.
func (s *DocumentStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *DocumentStore) collectionLocked(collection string) map[string]document {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]document)
		s.collections[collection] = docs
	}
	return docs
}

func (s *DocumentStore) filter(collection string, limit int, keep func(map[string]any) bool) []store.Object {
	s.mu.RLock()
	type entry struct {
		obj store.Object
		seq uint64
	}
	var entries []entry
	for id, doc := range s.collections[collection] {
		if keep(doc.props) {
			entries = append(entries, entry{obj: store.Object{ID: id, Properties: cloneProps(doc.props)}, seq: doc.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]store.Object, 0, len(entries))
	for _, e := range entries {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, e.obj)
	}
	return out
}

func cloneProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
