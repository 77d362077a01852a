package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Open builds a store from a DSN:
//
//	memory
//	sqlite:<path>          (sqlite::memory: for an in-memory database)
//	postgres://...         (the caller must link a "postgres" driver)
//	redis://host:port/db
//
// The returned close func releases the underlying connection.
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch {
	case dsn == "memory":
		return NewMemoryStore(), noop, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return openSQL(ctx, "sqlite", strings.TrimPrefix(dsn, "sqlite:"), DialectSQLite)
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return openSQL(ctx, "postgres", dsn, DialectPostgres)
	case strings.HasPrefix(dsn, "redis://"), strings.HasPrefix(dsn, "rediss://"):
		opts, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("history: %w", err)
		}
		client := redis.NewClient(opts)
		return NewRedisStore(client), client.Close, nil
	}
	return nil, nil, fmt.Errorf("history: unsupported dsn %q", dsn)
}

func openSQL(ctx context.Context, driver, dsn string, dialect Dialect) (Store, func() error, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// every pooled connection to :memory: would be a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("history: ping %s: %w", driver, err)
	}
	store, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}
