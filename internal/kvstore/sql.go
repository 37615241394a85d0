// Copyright (c) 2025 Stormfleet
// InfoBroker - capability-based query routing for cloud orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	// SQL drivers required for integration tests and runtime.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stormfleet/infobroker/internal/broker"
	"github.com/stormfleet/infobroker/internal/factory"
	"github.com/stormfleet/infobroker/internal/logging"
)

func init() {
	factory.Register(Role, "sql", func(cfg factory.Config) (any, error) {
		var c SQLConfig
		if err := cfg.Decode(&c); err != nil {
			return nil, err
		}
		return NewSQL(c)
	})
}

// SQLConfig selects the database engine and connection string for the
// SQL-backed store.
type SQLConfig struct {
	// Type is one of "sqlite", "postgres" or "mysql".
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// kvEntry maps the kv_entries table for Bun queries.
type kvEntry struct {
	bun.BaseModel `bun:"table:kv_entries"`
	Key           string `bun:"key,pk"`
	Value         string `bun:"value"`
}

// SQL stores entries in a single kv_entries table through Bun. Values are
// YAML-serialized, like the redis backend.
type SQL struct {
	bun *bun.DB
}

// NewSQL opens the configured database, ensures the schema and returns the
// store. The pgx stdlib driver registers as "pgx", so "postgres" maps to
// that driver name.
func NewSQL(cfg SQLConfig) (*SQL, error) {
	driverName := cfg.Type
	if cfg.Type == "postgres" {
		driverName = "pgx"
	}
	start := time.Now()
	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory SQLite gives every connection its own database; force a
	// single connection so the schema stays visible. Tests rely on this.
	if cfg.Type == "sqlite" && cfg.DSN == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	bdb, err := createBunDB(sqlDB, cfg.Type)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := bdb.NewCreateTable().Model((*kvEntry)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("failed to ensure kv_entries table: %w", err)
	}

	logging.Debugf("kvstore: opened %s store in %s", cfg.Type, time.Since(start))
	return &SQL{bun: bdb}, nil
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and engine type.
func createBunDB(sqlDB *sql.DB, dbType string) (*bun.DB, error) {
	switch dbType {
	case "sqlite":
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database type for storage backend: %q", dbType)
	}
}

// HasKey reports whether key has a row.
func (s *SQL) HasKey(ctx context.Context, key string) (bool, error) {
	exists, err := s.bun.NewSelect().Model((*kvEntry)(nil)).Where("? = ?", bun.Ident("key"), key).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("sql exists %q: %w", key, err)
	}
	return exists, nil
}

// QueryItem fetches and decodes the value stored under key.
func (s *SQL) QueryItem(ctx context.Context, key string) (any, error) {
	var entry kvEntry
	err := s.bun.NewSelect().Model(&entry).Where("? = ?", bun.Ident("key"), key).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, broker.NewKeyNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %q: %w", key, err)
	}
	return decodeValue(entry.Value)
}

// SetItem upserts the encoded value under key. Update-then-insert inside a
// transaction keeps the statement portable across all three engines.
func (s *SQL) SetItem(ctx context.Context, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}

	tx, err := s.bun.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql set %q: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NewUpdate().Model((*kvEntry)(nil)).
		Set("? = ?", bun.Ident("value"), raw).
		Where("? = ?", bun.Ident("key"), key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sql update %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sql update %q: %w", key, err)
	}
	if affected == 0 {
		if _, err := tx.NewInsert().Model(&kvEntry{Key: key, Value: raw}).Exec(ctx); err != nil {
			return fmt.Errorf("sql insert %q: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql set %q: %w", key, err)
	}
	return nil
}

// DeleteItem removes key's row; absent keys are a no-op.
func (s *SQL) DeleteItem(ctx context.Context, key string) error {
	if _, err := s.bun.NewDelete().Model((*kvEntry)(nil)).Where("? = ?", bun.Ident("key"), key).Exec(ctx); err != nil {
		return fmt.Errorf("sql delete %q: %w", key, err)
	}
	return nil
}

// AllKeys lists the stored keys in key order.
func (s *SQL) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.bun.NewSelect().Model((*kvEntry)(nil)).
		Column("key").
		OrderExpr("? ASC", bun.Ident("key")).
		Scan(ctx, &keys)
	if err != nil {
		return nil, fmt.Errorf("sql list keys: %w", err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.bun.Close()
}
