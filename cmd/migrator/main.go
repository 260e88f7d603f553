// This program migrates the database to the latest version
package main

import (
	"context"
	"flag"

	"github.com/bcmk/bkcoupons/internal/db"
	"github.com/bcmk/bkcoupons/lib/cmdlib"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		panic("usage: migrator <dsn>")
	}

	database, err := db.NewDatabase(context.Background(), args[0])
	cmdlib.CheckErr(err)
	cmdlib.CheckErr(database.Close())
	cmdlib.Linf("migrations applied")
}
