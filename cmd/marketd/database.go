package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/marketplace/pkg/config"
	"github.com/Mindburn-Labs/marketplace/pkg/store"
)

// openStore connects to Postgres, or to SQLite in lite mode, and applies
// the schema.
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, *store.SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	if cfg.LiteMode() {
		if err := os.MkdirAll(filepath.Dir(cfg.LitePath), 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		slog.InfoContext(ctx, "lite mode: using sqlite", "path", cfg.LitePath)
		db, err = sql.Open("sqlite", cfg.LitePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	} else {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("DB ping failed: %w", err)
	}

	s := store.NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, s, nil
}
