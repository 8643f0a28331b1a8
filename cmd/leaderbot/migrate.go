package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leaderbot/leaderbot/internal/db"
	"github.com/leaderbot/leaderbot/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back audit database migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "up":
				err = db.Migrate(logger.L, cfg.Postgres.DSN)
			case "down":
				err = db.MigrateDown(logger.L, cfg.Postgres.DSN)
			default:
				return fmt.Errorf("unknown migrate direction %q", direction)
			}
			if errors.Is(err, db.ErrNotConfigured) {
				return fmt.Errorf("%w: set postgres.dsn or DATABASE_URL", err)
			}
			return err
		},
	}
	return cmd
}
