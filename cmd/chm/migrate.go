package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/chm/internal/db"
	"github.com/jonathan/chm/internal/log"
)

var migrateSource string

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back database migrations",
	Args:  cobra.ExactArgs(1),
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSource, "source", "file://migrations", "Migration source URL")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, args []string) error {
	databaseURL := os.Getenv("CHM_DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("CHM_DATABASE_URL environment variable is required")
	}
	logger := log.GetLogger()

	switch args[0] {
	case "up":
		if err := db.MigrateUp(migrateSource, databaseURL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	case "down":
		if err := db.MigrateDown(migrateSource, databaseURL); err != nil {
			return err
		}
		logger.Info("rolled back one migration")
	default:
		return fmt.Errorf("unknown direction %q: use up or down", args[0])
	}
	return nil
}
