package main

import (
	"fmt"

	"projectflow/pkg/db"

	"github.com/spf13/cobra"
)

var migrateList bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateList, "list", false, "list embedded migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded PostgreSQL migrations that are not yet recorded in
schema_migrations. Requires workflow.storage=postgres.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if migrateList {
			names, err := db.MigrationNames()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if a.pool == nil {
			return fmt.Errorf("migrate requires workflow.storage=postgres, got %q", a.cfg.Workflow.Storage)
		}
		return db.Migrate(cmd.Context(), a.pool, a.logger)
	},
}
