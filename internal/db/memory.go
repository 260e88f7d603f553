package db

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore keeps documents in memory
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]map[string]Document{}}
}

func copyDocument(d Document) Document {
	d.Body = slices.Clone(d.Body)
	return d
}

func (m *MemoryStore) collection(name string) map[string]Document {
	c, ok := m.collections[name]
	if !ok {
		c = map[string]Document{}
		m.collections[name] = c
	}
	return c
}

// Get returns a document
func (m *MemoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.collection(collection)[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(d), nil
}

// All returns all documents of a collection
func (m *MemoryStore) All(_ context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	result := make([]Document, 0, len(c))
	for _, d := range c {
		result = append(result, copyDocument(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Put writes a document expecting its revision
func (m *MemoryStore) Put(_ context.Context, collection string, doc Document) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	current, exists := c[doc.ID]
	if (doc.Rev == 0 && exists) || (doc.Rev != 0 && (!exists || current.Rev != doc.Rev)) {
		return 0, ErrConflict
	}
	doc = copyDocument(doc)
	doc.Rev = current.Rev + 1
	c[doc.ID] = doc
	return doc.Rev, nil
}

// Upsert writes documents regardless of their revisions
func (m *MemoryStore) Upsert(_ context.Context, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	for _, d := range docs {
		d = copyDocument(d)
		d.Rev = c[d.ID].Rev + 1
		c[d.ID] = d
	}
	return nil
}

// Purge removes documents
func (m *MemoryStore) Purge(_ context.Context, collection string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

// Close does nothing
func (m *MemoryStore) Close() error { return nil }
