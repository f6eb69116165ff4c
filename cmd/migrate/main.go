package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/kevin07696/cashier-settlement/internal/adapters/database"
	"github.com/kevin07696/cashier-settlement/internal/config"
	"github.com/kevin07696/cashier-settlement/internal/db/migrations"
)

func main() {
	ledger := config.DatabaseFromEnv()

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := fs.String("dir", "internal/db/migrations", "where create writes new migration files")
	driver := fs.String("driver", ledger.Driver, "ledger driver: postgres or sqlite")
	dsn := fs.String("dsn", "", "connection string (default built from DB_* variables)")
	fs.Usage = func() { fmt.Fprint(fs.Output(), usageText) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	command, rest := fs.Arg(0), fs.Args()[1:]

	if command == "create" {
		if err := goose.Run(command, nil, *dir, rest...); err != nil {
			log.Fatalf("migrate create: %v", err)
		}
		return
	}

	ledger.Driver = *driver
	conn := *dsn
	if conn == "" {
		conn = ledger.DSN()
	}

	if err := run(context.Background(), ledger.Driver, conn, command, rest); err != nil {
		log.Fatalf("migrate %s: %v", command, err)
	}
}

func run(ctx context.Context, driver, dsn, command string, args []string) error {
	db, err := database.NewAdapter(ctx, database.DefaultConfig(driver, dsn), zap.NewNop())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(database.GooseDialect(driver)); err != nil {
		return err
	}
	return goose.RunContext(ctx, command, db.DB(), ".", args...)
}

const usageText = `Usage: migrate [-driver postgres|sqlite] [-dsn DSN] COMMAND [ARGS]

Commands:
    up                   Apply every pending ledger migration
    up-by-one            Apply the next pending migration
    up-to VERSION        Apply migrations up to VERSION
    down                 Roll back the latest migration
    down-to VERSION      Roll back to VERSION
    redo                 Roll back and re-apply the latest migration
    reset                Roll back every migration
    status               Show which migrations are applied
    version              Print the ledger schema version
    create NAME sql      Write a new timestamped migration into -dir

Examples:
    migrate up
    migrate -driver sqlite -dsn file:cashier.db status
    migrate create add_settlement_index sql
`
