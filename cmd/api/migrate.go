package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"kiritara/api/db"
	"kiritara/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := store.ApplyMigrations(cmd.Context(), cfg.DatabaseURL, db.Migrations()); err != nil {
			return err
		}
		slog.Info("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back every applied migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := store.RollbackMigrations(cmd.Context(), cfg.DatabaseURL, db.Migrations()); err != nil {
			return err
		}
		slog.Info("migrations rolled back")
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
