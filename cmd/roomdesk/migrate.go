package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/roomdesk/pkg/database"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Example: `  # Apply migrations to the configured database
  roomdesk migrate

  # Show which migrations have been applied
  ROOMDESK_DATABASE_DRIVER=postgres ROOMDESK_DATABASE_DSN=postgres://localhost/roomdesk roomdesk migrate --status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, _, err := openDatabase(ctx, !migrateStatus)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := database.AppliedVersions(ctx, db)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, m := range database.GetMigrations() {
			state := "pending"
			if applied[m.Version] {
				state = "applied"
			}
			fmt.Fprintf(out, "%03d  %-8s %s\n", m.Version, state, m.Description)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "list migrations without applying them")
}
