package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orgchart/api/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back Postgres schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if strings.ToLower(cfg.StoreBackend) != "postgres" {
				return errors.New("migrations only apply to STORE_BACKEND=postgres")
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			if args[0] == "down" {
				if err := store.RollbackMigrations(cmd.Context(), db, dir); err != nil {
					return err
				}
				logger.Info("migrations rolled back", zap.String("dir", dir))
				return nil
			}
			applied, err := store.ApplyMigrations(cmd.Context(), db, dir)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Strings("versions", applied), zap.String("dir", dir))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to ORGCHART_MIGRATIONS_DIR)")
	return cmd
}
