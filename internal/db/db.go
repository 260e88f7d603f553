// Package db represents a document store
package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	checkErr = cmdlib.CheckErr
	linf     = cmdlib.Linf
)

// QueryDurationsData represents duration parameters of specific query
type QueryDurationsData struct {
	Avg   float64
	Count int
}

// Total returns total duration of the query
func (q QueryDurationsData) Total() float64 {
	return q.Avg * float64(q.Count)
}

// Database represents a Postgres document store
type Database struct {
	pool        *pgxpool.Pool
	durationsMu sync.Mutex
	durations   map[string]QueryDurationsData
}

var _ Store = &Database{}

// NewDatabase connects to Postgres and applies migrations
func NewDatabase(ctx context.Context, connString string) (*Database, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("cannot parse connection string, %w", err)
	}
	config.MaxConns = 4
	config.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database, %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot ping database, %w", err)
	}
	d := &Database{pool: pool, durations: map[string]QueryDurationsData{}}
	if err := d.ApplyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// Measure measures query duration
func (d *Database) Measure(query string) func() {
	now := time.Now()
	return func() {
		elapsed := time.Since(now).Seconds()
		d.durationsMu.Lock()
		defer d.durationsMu.Unlock()
		data := d.durations[query]
		data.Avg = (data.Avg*float64(data.Count) + elapsed) / float64(data.Count+1)
		data.Count++
		d.durations[query] = data
	}
}

// Durations returns a copy of the query durations
func (d *Database) Durations() map[string]QueryDurationsData {
	d.durationsMu.Lock()
	defer d.durationsMu.Unlock()
	result := make(map[string]QueryDurationsData, len(d.durations))
	for k, v := range d.durations {
		result[k] = v
	}
	return result
}

// QueryParams represents query parameters
type QueryParams []interface{}

// ScanTo represents scanning parameters
type ScanTo []interface{}

// MustInt executes the query and returns single integer
func (d *Database) MustInt(query string, args ...interface{}) (result int) {
	defer d.Measure("db: " + query)()
	checkErr(d.pool.QueryRow(context.Background(), query, args...).Scan(&result))
	return result
}

// MustQuery executes the query and stores data using store function
func (d *Database) MustQuery(queryString string, args QueryParams, record ScanTo, store func()) {
	defer d.Measure("db: " + queryString)()
	rows, err := d.pool.Query(context.Background(), queryString, args...)
	checkErr(err)
	defer rows.Close()
	for rows.Next() {
		checkErr(rows.Scan(record...))
		store()
	}
	checkErr(rows.Err())
}

// Get returns a document
func (d *Database) Get(ctx context.Context, collection, id string) (Document, error) {
	const query = "select rev, body::text from documents where collection = $1 and id = $2"
	defer d.Measure("db: " + query)()
	var body string
	doc := Document{ID: id}
	err := d.pool.QueryRow(ctx, query, collection, id).Scan(&doc.Rev, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("cannot get %s/%s, %w", collection, id, err)
	}
	doc.Body = []byte(body)
	return doc, nil
}

// All returns all documents of a collection
func (d *Database) All(ctx context.Context, collection string) ([]Document, error) {
	const query = "select id, rev, body::text from documents where collection = $1 order by id"
	defer d.Measure("db: " + query)()
	rows, err := d.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("cannot query %s, %w", collection, err)
	}
	defer rows.Close()
	var result []Document
	for rows.Next() {
		var doc Document
		var body string
		if err := rows.Scan(&doc.ID, &doc.Rev, &body); err != nil {
			return nil, fmt.Errorf("cannot scan %s, %w", collection, err)
		}
		doc.Body = []byte(body)
		result = append(result, doc)
	}
	return result, rows.Err()
}

// Put writes a document expecting its revision
func (d *Database) Put(ctx context.Context, collection string, doc Document) (int, error) {
	if doc.Rev == 0 {
		const query = `
			insert into documents (collection, id, rev, body) values ($1, $2, 1, $3::jsonb)
			on conflict do nothing`
		defer d.Measure("db: " + query)()
		tag, err := d.pool.Exec(ctx, query, collection, doc.ID, string(doc.Body))
		if err != nil {
			return 0, fmt.Errorf("cannot insert %s/%s, %w", collection, doc.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return 0, ErrConflict
		}
		return 1, nil
	}
	const query = `
		update documents set rev = rev + 1, body = $4::jsonb
		where collection = $1 and id = $2 and rev = $3`
	defer d.Measure("db: " + query)()
	tag, err := d.pool.Exec(ctx, query, collection, doc.ID, doc.Rev, string(doc.Body))
	if err != nil {
		return 0, fmt.Errorf("cannot update %s/%s, %w", collection, doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrConflict
	}
	return doc.Rev + 1, nil
}

// Upsert writes documents regardless of their revisions
func (d *Database) Upsert(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	const query = `
		insert into documents (collection, id, rev, body) values ($1, $2, 1, $3::jsonb)
		on conflict (collection, id) do update set rev = documents.rev + 1, body = excluded.body`
	defer d.Measure("db: " + query)()
	batch := &pgx.Batch{}
	for _, doc := range docs {
		batch.Queue(query, collection, doc.ID, string(doc.Body))
	}
	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("cannot upsert into %s, %w", collection, err)
	}
	return nil
}

// Purge removes documents
func (d *Database) Purge(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = "delete from documents where collection = $1 and id = any($2)"
	defer d.Measure("db: " + query)()
	if _, err := d.pool.Exec(ctx, query, collection, ids); err != nil {
		return fmt.Errorf("cannot purge from %s, %w", collection, err)
	}
	return nil
}

// Close closes the connection pool
func (d *Database) Close() error {
	d.pool.Close()
	return nil
}
