package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/config"
	"github.com/platinummonkey/roomdesk/pkg/database"
	"github.com/platinummonkey/roomdesk/pkg/observability"
)

var (
	// Set during PersistentPreRunE
	cfg    *config.Config
	logger *observability.Logger

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "roomdesk",
	Short: "Role-based back-office API",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger = observability.NewLoggerWithFormat(cfg.LogLevel(), cfg.Log.Format, os.Stdout)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(versionCmd)
}

// openDatabase connects and optionally brings the schema up to date
func openDatabase(ctx context.Context, migrate bool) (*sql.DB, database.Dialect, error) {
	db, dialect, err := database.Open(ctx, cfg.Database.Options())
	if err != nil {
		return nil, "", err
	}

	if migrate {
		applied, err := database.RunMigrations(ctx, db, dialect)
		if err != nil {
			db.Close()
			return nil, "", err
		}
		for _, m := range applied {
			logger.WithField("version", m.Version).WithField("description", m.Description).Info("migration applied")
		}
	}

	return db, dialect, nil
}

// newRedis returns nil when no redis address is configured
func newRedis(ctx context.Context) (*redis.Client, error) {
	if !cfg.Redis.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return client, nil
}

// newAuthService builds the identity service on the configured token store
func newAuthService(db *sql.DB, client *redis.Client, metrics *observability.Metrics) (*auth.Service, *auth.UserStore, error) {
	var tokens auth.TokenStore = auth.NewSQLTokenStore(db)
	if cfg.Auth.TokenStore == config.TokenStoreRedis {
		if client == nil {
			return nil, nil, fmt.Errorf("token store %q needs redis.addr", config.TokenStoreRedis)
		}
		tokens = auth.NewRedisTokenStore(client, "roomdesk:token:")
	}

	users := auth.NewUserStore(db)
	service, err := auth.NewService(users, tokens, auth.Config{
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, metrics)
	if err != nil {
		return nil, nil, err
	}
	return service, users, nil
}
