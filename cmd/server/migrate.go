package main

import (
	"github.com/urfave/cli/v2"

	"github.com/rl1809/warehouse-orders/internal/adapter/storage"
	"github.com/rl1809/warehouse-orders/internal/config"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or revert the schema",
		Subcommands: []*cli.Command{
			migrateAction(storage.MigrateUp, "apply all pending migrations"),
			migrateAction(storage.MigrateDown, "revert all migrations"),
		},
	}
}

func migrateAction(direction storage.MigrationDirection, usage string) *cli.Command {
	return &cli.Command{
		Name:  string(direction),
		Usage: usage,
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := openMySQL(c.Context, cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return storage.Migrate(db.DB, direction)
		},
	}
}
