// This program prints the schema of the document store, its applied migrations
// and the size of every collection.
// Without -dsn it applies the migrations to a throwaway PostgreSQL container.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	checkErr = cmdlib.CheckErr
	linf     = cmdlib.Linf
)

var dsn = flag.String("dsn", "", "dump an existing database instead of a throwaway container")

func main() {
	flag.Parse()
	ctx := context.Background()

	connStr := *dsn
	if connStr == "" {
		linf("starting PostgreSQL container...")
		pgContainer, err := postgres.Run(
			ctx,
			"postgres:18",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			postgres.BasicWaitStrategies(),
		)
		checkErr(err)
		defer func() { checkErr(pgContainer.Terminate(ctx)) }()
		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		checkErr(err)
	}

	linf("applying migrations...")
	database, err := db.NewDatabase(ctx, connStr)
	checkErr(err)
	defer func() { checkErr(database.Close()) }()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	printTables(w, database)
	printMigrations(w, database)
	printCollections(w, database)
	checkErr(w.Flush())
}

func printTables(w *tabwriter.Writer, database *db.Database) {
	var table, column, dataType, nullable string
	var def *string
	current := ""
	database.MustQuery(
		`
			select c.table_name, c.column_name, c.data_type, c.is_nullable, c.column_default
			from information_schema.columns c
			join information_schema.tables t
				on c.table_name = t.table_name and c.table_schema = t.table_schema
			where c.table_schema = 'public' and t.table_type = 'BASE TABLE'
			order by c.table_name, c.ordinal_position
		`,
		nil,
		db.ScanTo{&table, &column, &dataType, &nullable, &def},
		func() {
			if table != current {
				fmt.Fprintf(w, "\ntable %s\n", table)
				current = table
			}
			flags := ""
			if nullable == "NO" {
				flags = "not null"
			}
			if def != nil {
				flags += " default " + *def
			}
			fmt.Fprintf(w, "    %s\t%s\t%s\n", column, dataType, flags)
		})

	var name, indexDef string
	fmt.Fprintln(w, "\nindexes")
	database.MustQuery(
		`select indexname, indexdef from pg_indexes where schemaname = 'public' order by tablename, indexname`,
		nil,
		db.ScanTo{&name, &indexDef},
		func() { fmt.Fprintf(w, "    %s\t%s\n", name, indexDef) })
}

func printMigrations(w *tabwriter.Writer, database *db.Database) {
	var name string
	var appliedAt int64
	fmt.Fprintln(w, "\nmigrations")
	database.MustQuery(
		`select name, applied_at from schema_migrations order by name`,
		nil,
		db.ScanTo{&name, &appliedAt},
		func() { fmt.Fprintf(w, "    %s\t%d\n", name, appliedAt) })
}

func printCollections(w *tabwriter.Writer, database *db.Database) {
	var collection string
	var count, maxRev int
	fmt.Fprintln(w, "\ncollections")
	database.MustQuery(
		`select collection, count(*), max(rev) from documents group by collection order by collection`,
		nil,
		db.ScanTo{&collection, &count, &maxRev},
		func() { fmt.Fprintf(w, "    %s\t%d documents\tmax rev %d\n", collection, count, maxRev) })
}
