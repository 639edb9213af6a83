package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
)

// Open builds the record store selected by cfg.StoreBackend, wrapped with metrics.
func Open(ctx context.Context, cfg config.App, log logrus.FieldLogger) (*Instrumented, error) {
	var (
		s   attendance.Store
		err error
	)
	switch cfg.StoreBackend {
	case "file", "":
		s, err = NewFileStore(cfg.DataFile)
		log.WithField("path", cfg.DataFile).Info("using json file store")
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.DatabaseURL)
		log.Info("using postgres store")
	case "sqlite":
		s, err = NewSQLiteStore(ctx, cfg.SQLitePath)
		log.WithField("path", cfg.SQLitePath).Info("using sqlite store")
	case "redis":
		r := NewRedis(cfg.RedisAddr)
		if !r.Healthy(ctx) {
			_ = r.Close()
			return nil, fmt.Errorf("redis at %s not reachable", cfg.RedisAddr)
		}
		rs := NewRedisStore(r.Client, cfg.RedisPrefix)
		rs.ownsConn = true
		s = rs
		log.WithField("addr", cfg.RedisAddr).Info("using redis store")
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	backend := cfg.StoreBackend
	if backend == "" {
		backend = "file"
	}
	return Instrument(backend, s), nil
}
