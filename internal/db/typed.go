package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Versioned represents a decoded document with its revision
type Versioned[T any] struct {
	Value *T
	Rev   int
}

// GetAs returns a decoded document
func GetAs[T any](ctx context.Context, s Store, collection, id string) (Versioned[T], error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return Versioned[T]{}, err
	}
	v := new(T)
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return Versioned[T]{}, fmt.Errorf("cannot decode %s/%s, %w", collection, id, err)
	}
	return Versioned[T]{Value: v, Rev: doc.Rev}, nil
}

// GetOrNew returns a decoded document or a zero value with revision zero if it does not exist
func GetOrNew[T any](ctx context.Context, s Store, collection, id string) (Versioned[T], error) {
	v, err := GetAs[T](ctx, s, collection, id)
	if errors.Is(err, ErrNotFound) {
		return Versioned[T]{Value: new(T)}, nil
	}
	return v, err
}

// AllAs returns all decoded documents of a collection by id.
// Undecodable documents are reported as an error.
func AllAs[T any](ctx context.Context, s Store, collection string) (map[string]Versioned[T], error) {
	docs, err := s.All(ctx, collection)
	if err != nil {
		return nil, err
	}
	result := make(map[string]Versioned[T], len(docs))
	for _, d := range docs {
		v := new(T)
		if err := json.Unmarshal(d.Body, v); err != nil {
			return nil, fmt.Errorf("cannot decode %s/%s, %w", collection, d.ID, err)
		}
		result[d.ID] = Versioned[T]{Value: v, Rev: d.Rev}
	}
	return result, nil
}

// ValuesAs returns all decoded documents of a collection without revisions
func ValuesAs[T any](ctx context.Context, s Store, collection string) (map[string]*T, error) {
	all, err := AllAs[T](ctx, s, collection)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*T, len(all))
	for k, v := range all {
		result[k] = v.Value
	}
	return result, nil
}

// PutAs encodes and writes a document expecting its revision, it returns the new revision
func PutAs[T any](ctx context.Context, s Store, collection, id string, v Versioned[T]) (int, error) {
	body, err := json.Marshal(v.Value)
	if err != nil {
		return 0, fmt.Errorf("cannot encode %s/%s, %w", collection, id, err)
	}
	return s.Put(ctx, collection, Document{ID: id, Rev: v.Rev, Body: body})
}

// UpsertAs encodes and writes documents regardless of their revisions
func UpsertAs[T any](ctx context.Context, s Store, collection string, values map[string]*T) error {
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	docs := make([]Document, 0, len(values))
	for _, id := range ids {
		body, err := json.Marshal(values[id])
		if err != nil {
			return fmt.Errorf("cannot encode %s/%s, %w", collection, id, err)
		}
		docs = append(docs, Document{ID: id, Body: body})
	}
	return s.Upsert(ctx, collection, docs)
}

// Clear removes all documents of a collection
func Clear(ctx context.Context, s Store, collection string) error {
	docs, err := s.All(ctx, collection)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return s.Purge(ctx, collection, ids)
}
