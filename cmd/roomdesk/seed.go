package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
	"github.com/platinummonkey/roomdesk/pkg/seed"
)

var (
	seedFile          string
	seedAdminUsername string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create default roles, permissions and users",
	Long: `Apply a seed file. Entries are matched by name, so seeding twice is safe.
Without --file the built-in set (Admin, Staff, Manager, Guest) is applied.`,
	Example: `  # Apply the built-in roles and permissions and create an admin
  roomdesk seed --admin-username owner1 --admin-password 's3cret!'

  # Apply a custom file
  roomdesk seed --file seed.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			f   *seed.File
			err error
		)
		if seedFile != "" {
			f, err = seed.Load(seedFile)
		} else {
			f, err = seed.Default()
		}
		if err != nil {
			return err
		}

		if seedAdminUsername != "" {
			if seedAdminPassword == "" {
				return fmt.Errorf("--admin-password is required with --admin-username")
			}
			f.Users = append(f.Users, seed.User{
				Username: seedAdminUsername,
				Password: seedAdminPassword,
				Roles:    []string{"Admin"},
			})
			if err := f.Validate(); err != nil {
				return err
			}
		}

		db, _, err := openDatabase(ctx, true)
		if err != nil {
			return err
		}
		defer db.Close()

		// seeding never issues tokens, so the SQL store is enough
		users := auth.NewUserStore(db)
		service, err := auth.NewService(users, auth.NewSQLTokenStore(db), auth.Config{BcryptCost: cfg.Auth.BcryptCost}, nil)
		if err != nil {
			return err
		}

		report, err := seed.NewSeeder(rbac.NewStore(db, nil), users, service, logger).Apply(ctx, f)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "permissions created: %d\nroles created: %d\nusers created: %d\nassignments added: %d, removed: %d\n",
			report.PermissionsCreated, report.RolesCreated, report.UsersCreated, report.EdgesAdded, report.EdgesRemoved)
		return nil
	},
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedFile, "file", "", "seed file (default: built-in roles and permissions)")
	f.StringVar(&seedAdminUsername, "admin-username", "", "also create this user with the Admin role")
	f.StringVar(&seedAdminPassword, "admin-password", "", "password for --admin-username")
}
