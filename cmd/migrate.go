package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vehicle-scraper/internal/config"
	"github.com/JakeFAU/vehicle-scraper/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manages the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Applies every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, rt, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(dsn); err != nil {
				return err
			}
			rt.logger.Info("migrations applied")
			return reportVersion(cmd, dsn)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Rolls back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			dsn, rt, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(dsn, steps); err != nil {
				return err
			}
			rt.logger.Info("migrations rolled back", zap.Int("steps", steps))
			return reportVersion(cmd, dsn)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Prints the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, _, err := migrationTarget(cmd)
			if err != nil {
				return err
			}
			return reportVersion(cmd, dsn)
		},
	})
	return cmd
}

func migrationTarget(cmd *cobra.Command) (string, *runtime, error) {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return "", nil, err
	}
	if rt.cfg.Storage.Backend != config.BackendPostgres {
		return "", nil, errors.New("migrations require storage.backend=postgres")
	}
	return rt.cfg.DB.DSN, rt, nil
}

func reportVersion(cmd *cobra.Command, dsn string) error {
	version, dirty, err := postgres.MigrationVersion(dsn)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return err
}
