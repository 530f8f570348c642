package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raakeshmj/nfcverify/internal/server"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending schema migrations to the configured store. The sqlite
store migrates whenever it is opened; the memory store has no schema.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	store, err := server.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if m, ok := store.(server.Migrator); ok {
		if err := m.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.StoreDriver)
	return err
}
