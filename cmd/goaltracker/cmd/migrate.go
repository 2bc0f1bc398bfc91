package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jmcleod/goaltracker/internal/config"
	"github.com/jmcleod/goaltracker/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations",
	Long:  `Applies the bundled schema migrations to the database named by DATABASE_URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(pool *pgxpool.Pool) error {
			if err := postgres.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			return printVersion(cmd, pool)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(pool *pgxpool.Pool) error {
			if err := postgres.Rollback(cmd.Context(), pool); err != nil {
				return err
			}
			return printVersion(cmd, pool)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPool(cmd, func(pool *pgxpool.Pool) error {
			return printVersion(cmd, pool)
		})
	},
}

func withPool(cmd *cobra.Command, fn func(*pgxpool.Pool) error) error {
	if err := cmd.Flags().Set("store", config.StorePostgres); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.StoreTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	return fn(pool)
}

func printVersion(cmd *cobra.Command, pool *pgxpool.Pool) error {
	v, err := postgres.Version(cmd.Context(), pool)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateDownCmd, migrateStatusCmd)
	migrateCmd.PersistentFlags().String("database-url", "", "Postgres connection string (DATABASE_URL)")
	migrateCmd.PersistentFlags().String("store", config.StorePostgres, "")
	_ = migrateCmd.PersistentFlags().MarkHidden("store")
}
