package main

import (
	"github.com/spf13/cobra"

	"techlab-bot/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = l.Sync() }()

			return db.RunMigrations(cfg.DB.URL(), l)
		},
	}
}
