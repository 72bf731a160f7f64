package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/seezam/finbot/internal/config"
	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/storage/file"
	"github.com/seezam/finbot/internal/storage/kv"
	"github.com/seezam/finbot/internal/storage/memory"
	"github.com/seezam/finbot/internal/storage/postgres"
)

// backend is implemented by every storage adapter.
type backend interface {
	interfaces.LedgerStore
	interfaces.SessionStore
}

type stores struct {
	ledger   interfaces.LedgerStore
	sessions interfaces.SessionStore

	closers []func() error
	logger  *zap.Logger
}

// openStores builds the ledger and session stores. When both use the same
// backend they share one instance, so the file backend keeps a single writer.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{logger: logger}
	opened := map[string]backend{}

	get := func(name string) (backend, error) {
		if b, ok := opened[name]; ok {
			return b, nil
		}
		b, err := s.open(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s backend: %w", name, err)
		}
		opened[name] = b
		return b, nil
	}

	ledgerStore, err := get(cfg.StorageBackend)
	if err != nil {
		s.Close()
		return nil, err
	}
	sessionStore, err := get(cfg.SessionBackend)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.ledger = ledgerStore
	s.sessions = sessionStore
	return s, nil
}

func (s *stores) open(ctx context.Context, name string, cfg *config.Config) (backend, error) {
	switch name {
	case config.BackendMemory:
		return memory.NewMemoryStore(), nil

	case config.BackendFile:
		return file.NewFileStore(cfg.DataFile)

	case config.BackendRedis:
		client, err := kv.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		return kv.NewRedisStore(client, cfg.Redis.Prefix), nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		store := postgres.NewPostgresLedgerStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("failed to close store", zap.Error(err))
		}
	}
}
