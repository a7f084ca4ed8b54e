package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/ppe-safety-monitor/internal/logger"
	"github.com/dj-oyu/ppe-safety-monitor/internal/store"
)

func newMigrateCommand() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the violations schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("--database-url is required")
			}
			db, err := store.Connect(cmd.Context(), databaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			logger.Info("Main", "Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL")
	return cmd
}
