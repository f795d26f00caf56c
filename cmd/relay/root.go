package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/petrijr/relay/internal/config"
	"github.com/petrijr/relay/internal/persistence"
	"github.com/petrijr/relay/pkg/api"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "relay",
	Short:         "Workflow runner and draft approval service",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default relay.yaml)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// openStores builds the Stores bundle for the configured backend. The
// returned close function releases any underlying connections.
func openStores(cfg *config.Config) (api.Stores, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Backend {
	case "memory":
		return persistence.NewMemoryStores(), noop, nil

	case "file":
		return persistence.NewFileStores(cfg.Store.Dir), noop, nil

	case "sqlite":
		if cfg.Store.DSN == "" {
			return api.Stores{}, nil, fmt.Errorf("sqlite backend requires store.dsn")
		}
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return api.Stores{}, nil, err
		}
		stores, err := persistence.NewSQLiteStores(db)
		if err != nil {
			db.Close()
			return api.Stores{}, nil, err
		}
		return stores, db.Close, nil

	case "postgres":
		if cfg.Store.DSN == "" {
			return api.Stores{}, nil, fmt.Errorf("postgres backend requires store.dsn")
		}
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return api.Stores{}, nil, err
		}
		state, err := persistence.NewPostgresStateStore(db)
		if err != nil {
			db.Close()
			return api.Stores{}, nil, err
		}
		drafts, err := persistence.NewPostgresDraftStore(db)
		if err != nil {
			db.Close()
			return api.Stores{}, nil, err
		}
		// Run logs stay on local files; they are append-only and
		// per-run, so a shared database buys nothing.
		return api.Stores{
			RunLogs: persistence.NewFileRunLogStore(filepath.Join(cfg.Store.Dir, "logs")),
			State:   state,
			Drafts:  drafts,
		}, db.Close, nil

	case "redis":
		if cfg.Store.RedisAddr == "" {
			return api.Stores{}, nil, fmt.Errorf("redis backend requires store.redis_addr")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		return api.Stores{
			RunLogs: persistence.NewFileRunLogStore(filepath.Join(cfg.Store.Dir, "logs")),
			State:   persistence.NewRedisStateStore(client, cfg.Store.RedisPrefix),
			Drafts:  persistence.NewRedisDraftStore(client, cfg.Store.RedisPrefix),
		}, client.Close, nil

	default:
		return api.Stores{}, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
