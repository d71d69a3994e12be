package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local backend used for local runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[string]Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]map[string]Document{}, now: time.Now}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Get(_ context.Context, tenantID, key string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[tenantID][key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return clone(doc), nil
}

func (s *MemoryStore) Put(_ context.Context, tenantID, key string, body []byte) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.docs[tenantID][key]
	return s.write(tenantID, key, body, current.Version+1), nil
}

func (s *MemoryStore) CompareAndPut(_ context.Context, tenantID, key string, body []byte, expected int64) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[tenantID][key]
	if (!ok && expected != 0) || (ok && current.Version != expected) {
		return Document{}, ErrVersionConflict
	}
	return s.write(tenantID, key, body, expected+1), nil
}

func (s *MemoryStore) write(tenantID, key string, body []byte, version int64) Document {
	partition, ok := s.docs[tenantID]
	if !ok {
		partition = map[string]Document{}
		s.docs[tenantID] = partition
	}
	doc := Document{Body: append([]byte(nil), body...), Version: version, UpdatedAt: s.now().UTC()}
	partition[key] = doc
	return clone(doc)
}

func clone(doc Document) Document {
	doc.Body = append([]byte(nil), doc.Body...)
	return doc
}
