package db

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_no_transaction_index.sql": {Data: []byte("create index concurrently x on y (z);")},
		"migrations/0001_documents.sql":            {Data: []byte("create table y (z int);")},
		"migrations/README":                        {Data: []byte("ignored")},
	}
	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatal(err)
	}
	expected := []migration{
		{order: 1, name: "documents", sql: "create table y (z int);"},
		{order: 2, name: "index", sql: "create index concurrently x on y (z);", noTransaction: true},
	}
	if !reflect.DeepEqual(migrations, expected) {
		t.Errorf("unexpected migrations %+v", migrations)
	}
}

func TestLoadMigrationsErrors(t *testing.T) {
	for _, fsys := range []fstest.MapFS{
		{"migrations/first.sql": {}},
		{"migrations/0001_a.sql": {}, "migrations/01_b.sql": {}},
	} {
		if _, err := loadMigrations(fsys); err == nil {
			t.Errorf("expected an error for %v", fsys)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(migrations) == 0 || migrations[0].name != "schema_migrations" {
		t.Errorf("unexpected embedded migrations %+v", migrations)
	}
}
