package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcleod/goaltracker/api"
	"github.com/jmcleod/goaltracker/identity"
	"github.com/jmcleod/goaltracker/internal/config"
	"github.com/jmcleod/goaltracker/internal/util"
	"github.com/jmcleod/goaltracker/storage"
	bboltstorage "github.com/jmcleod/goaltracker/storage/bbolt"
	"github.com/jmcleod/goaltracker/storage/memory"
	"github.com/jmcleod/goaltracker/storage/postgres"
)

const boltFile = "goaltracker.db"

// openRepository opens the configured backend. The Postgres constructor
// brings the schema up to date itself.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Repository, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.NewRepository(), nil
	case config.StoreBBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, boltFile), cfg.StoreTimeout)
		if err != nil {
			if bboltstorage.IsTimeout(err) {
				return nil, fmt.Errorf("database %s is locked by another process: %w", cfg.DataDir, err)
			}
			return nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, nil
	case config.StorePostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func newIdentity(cfg *config.Config, repo storage.Repository, logger *slog.Logger) (identity.Provider, error) {
	if cfg.AuthProvider == config.AuthGoTrue {
		client := &http.Client{Timeout: 15 * time.Second}
		return identity.NewGoTrue(cfg.SupabaseURL, cfg.SupabaseAnonKey, repo.Users(), client), nil
	}
	local, err := identity.NewLocal(repo.Users(), identity.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return local, nil
}

// newSessionStore keeps sessions in memory for the memory backend and sealed
// in the repository otherwise. The returned func releases the store.
func newSessionStore(ctx context.Context, cfg *config.Config, repo storage.Repository, logger *slog.Logger) (api.SessionStore, func(), error) {
	if cfg.Store == config.StoreMemory {
		return api.NewMemorySessionStore(cfg.SessionIdleTimeout), func() {}, nil
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		if !cfg.DevMode() {
			return nil, nil, errors.New("SESSION_SECRET is required")
		}
		var err error
		if secret, err = util.RandomBytes(32); err != nil {
			return nil, nil, err
		}
		logger.Warn("SESSION_SECRET not set; using a random secret, sessions will not survive a restart")
	}

	store, err := api.NewPersistentSessionStore(ctx, repo.Sessions(), secret, cfg.SessionIdleTimeout, logger)
	util.WipeBytes(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, store.Close, nil
}
