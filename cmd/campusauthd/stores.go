package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	ca "github.com/panyam/campusauth"
	"github.com/panyam/campusauth/stores/fs"
	"github.com/panyam/campusauth/stores/gae"
	gormstore "github.com/panyam/campusauth/stores/gorm"
	redisstore "github.com/panyam/campusauth/stores/redis"
)

// twoFactorAdmin is implemented by every durable principal store
type twoFactorAdmin interface {
	SetTwoFactor(ctx context.Context, id string, cfg ca.TwoFactorConfig) error
}

// expiryCleaner is implemented by reset token stores without native TTLs
type expiryCleaner interface {
	CleanupExpired(ctx context.Context, cutoff time.Time) (int, error)
}

type storeSet struct {
	Principals  ca.PrincipalStore
	Links       ca.LinkStore
	Challenges  ca.ChallengeStore
	ResetTokens ca.ResetTokenStore

	closers []func() error
}

func (s *storeSet) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("closing store", "err", err)
		}
	}
}

func openStores(ctx context.Context, cfg Config) (*storeSet, error) {
	s := &storeSet{}
	switch cfg.Backend {
	case "fs":
		s.Principals = fs.NewFSPrincipalStore(cfg.DataDir)
		s.Links = fs.NewFSLinkStore(cfg.DataDir)
		s.Challenges = fs.NewFSChallengeStore(cfg.DataDir)
		s.ResetTokens = fs.NewFSResetTokenStore(cfg.DataDir)

	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			s.closers = append(s.closers, sqlDB.Close)
		}
		s.Principals = gormstore.NewPrincipalStore(db)
		s.Links = gormstore.NewLinkStore(db)
		s.Challenges = gormstore.NewChallengeStore(db)
		s.ResetTokens = gormstore.NewResetTokenStore(db)

	case "datastore":
		client, err := datastore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("open datastore: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.Principals = gae.NewPrincipalStore(client, cfg.Namespace)
		s.Links = gae.NewLinkStore(client, cfg.Namespace)
		s.Challenges = gae.NewChallengeStore(client, cfg.Namespace)
		s.ResetTokens = gae.NewResetTokenStore(client, cfg.Namespace)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			s.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		s.Challenges = redisstore.NewChallengeStore(client, cfg.RedisPrefix)
		s.ResetTokens = redisstore.NewResetTokenStore(client, cfg.RedisPrefix)
	}
	slog.Info("stores ready", "backend", cfg.Backend, "redis", cfg.RedisAddr != "")
	return s, nil
}

// runCleanup periodically removes expired reset tokens until ctx ends
func runCleanup(ctx context.Context, store ca.ResetTokenStore, every time.Duration) {
	cleaner, ok := store.(expiryCleaner)
	if !ok {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := cleaner.CleanupExpired(ctx, now)
			if err != nil {
				slog.Warn("reset token cleanup failed", "err", err)
			} else if removed > 0 {
				slog.Info("removed expired reset tokens", "count", removed)
			}
		}
	}
}
