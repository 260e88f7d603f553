package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsLockID serializes concurrent migrators, e.g. the bot and cmd/migrator
const migrationsLockID = 0x626b63

// migrationFileRegexp matches 0001_name.sql and 0001_no_transaction_name.sql
var migrationFileRegexp = regexp.MustCompile(`^(\d+)_(no_transaction_)?([a-z0-9_]+)\.sql$`)

type migration struct {
	order         int
	name          string
	sql           string
	noTransaction bool
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	var result []migration
	orders := map[int]string{}
	for _, file := range files {
		base := path.Base(file)
		m := migrationFileRegexp.FindStringSubmatch(base)
		if m == nil {
			return nil, fmt.Errorf("invalid migration file name %s", base)
		}
		order, _ := strconv.Atoi(m[1])
		if other, ok := orders[order]; ok {
			return nil, fmt.Errorf("migrations %s and %s share order %d", other, base, order)
		}
		orders[order] = base
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("cannot read migration %s, %w", base, err)
		}
		result = append(result, migration{
			order:         order,
			name:          m[3],
			sql:           string(content),
			noTransaction: m[2] != "",
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].order < result[j].order })
	return result, nil
}

// appliedMigrations returns the names of applied migrations,
// the bookkeeping table itself is created by the first migration
func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	var exists bool
	if err := conn.QueryRow(
		ctx,
		"select exists(select 1 from information_schema.tables where table_name = 'schema_migrations')",
	).Scan(&exists); err != nil {
		return nil, err
	}
	result := map[string]bool{}
	if !exists {
		return result, nil
	}
	rows, err := conn.Query(ctx, "select name from schema_migrations")
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		result[n] = true
	}
	return result, nil
}

// ApplyMigrations applies pending migrations in order under an advisory lock
func (d *Database) ApplyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("cannot acquire connection, %w", err)
	}
	defer conn.Release()
	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", migrationsLockID); err != nil {
		return fmt.Errorf("cannot lock migrations, %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "select pg_advisory_unlock($1)", migrationsLockID); err != nil {
			linf("cannot unlock migrations, %v", err)
		}
	}()

	applied, err := appliedMigrations(ctx, conn.Conn())
	if err != nil {
		return fmt.Errorf("cannot list applied migrations, %w", err)
	}
	pending := 0
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		linf("applying migration %04d %s...", m.order, m.name)
		if err := d.applyMigration(ctx, conn.Conn(), m); err != nil {
			return fmt.Errorf("cannot apply migration %s, %w", m.name, err)
		}
		pending++
	}
	linf("migrations applied: %d, already present: %d", pending, len(migrations)-pending)
	return nil
}

func (d *Database) applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	defer d.Measure("db: migration " + m.name)()
	const record = "insert into schema_migrations (name, applied_at) values ($1, $2) on conflict do nothing"
	if m.noTransaction {
		if _, err := conn.Exec(ctx, m.sql); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, record, m.name, time.Now().Unix())
		return err
	}
	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, record, m.name, time.Now().Unix())
		return err
	})
}
