package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Collection names
const (
	CouponsCollection        = "coupons"
	CouponsHistoryCollection = "coupons_history"
	UsersCollection          = "telegram_users"
	ChannelCollection        = "telegram_channel"
	InfoCollection           = "info_db"
	OffersCollection         = "offers"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a document revision does not match, that is a lost update
	ErrConflict = errors.New("document revision conflict")
)

// Document represents a stored JSON document with its revision
type Document struct {
	ID   string
	Rev  int
	Body json.RawMessage
}

// Store represents a document store with named collections.
// Writes of a single document are atomic, there are no cross-document transactions.
type Store interface {
	// Get returns a document or ErrNotFound
	Get(ctx context.Context, collection, id string) (Document, error)
	// All returns all documents of a collection ordered by id
	All(ctx context.Context, collection string) ([]Document, error)
	// Put writes a document expecting its current revision, zero means the document must not exist.
	// It returns the new revision or ErrConflict.
	Put(ctx context.Context, collection string, doc Document) (int, error)
	// Upsert writes documents regardless of their revisions
	Upsert(ctx context.Context, collection string, docs []Document) error
	// Purge removes documents, missing ones are ignored
	Purge(ctx context.Context, collection string, ids []string) error
	// Close releases the store
	Close() error
}

// Open opens a store selected by the URL scheme.
// The name is used as a database name where the URL has none.
func Open(ctx context.Context, rawURL string, name string) (Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse database URL, %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return NewDatabase(ctx, rawURL)
	case "mongodb", "mongodb+srv":
		return NewMongoStore(ctx, rawURL, name)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
}
