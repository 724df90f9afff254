// Arborlink - Plant Growth Camera Fleet Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arborlink

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/arborlink/internal/config"
	"github.com/tomtom215/arborlink/internal/logging"
	"github.com/tomtom215/arborlink/internal/metrics"
)

// DB wraps the DuckDB connection and provides the data access methods the
// ingestion pipeline calls.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (or creates) the database file and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Ensure the parent directory exists for file-backed databases.
	// 0750 per gosec G301.
	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
			}
		}
	}

	// Disable auto-install/auto-load of extensions to prevent hangs in
	// restricted network environments. Nothing in this schema needs one.
	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}

	if err := db.configureConnectionPool(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("configure connection pool: %w", err)
	}

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Msg("Database ready")

	return db, nil
}

// configureConnectionPool tunes the database/sql pool. DuckDB is an embedded
// engine, so connections are cheap cursors into one process-local database;
// the pool mostly bounds concurrent native calls.
func (db *DB) configureConnectionPool() error {
	maxConns := runtime.NumCPU()
	if maxConns < 2 {
		maxConns = 2
	}
	db.conn.SetMaxOpenConns(maxConns)
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	metrics.DBConnectionPoolSize.Set(float64(maxConns))
	return nil
}

// initialize creates tables, indexes, and applies pending migrations.
func (db *DB) initialize() error {
	if err := db.createTables(); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if err := db.createIndexes(); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	if err := db.runMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn exposes the underlying pool for tests and maintenance tooling.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Contract methods use this so session counter arithmetic
// and row claims are atomic against concurrent finalizations.
func (db *DB) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	start := time.Now()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.RecordDBQuery(operation, "tx", time.Since(start), err)
		return fmt.Errorf("begin %s: %w", operation, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Warn().Err(rbErr).Str("operation", operation).Msg("Rollback failed")
		}
		metrics.RecordDBQuery(operation, "tx", time.Since(start), err)
		return err
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery(operation, "tx", time.Since(start), err)
		return fmt.Errorf("commit %s: %w", operation, err)
	}

	metrics.RecordDBQuery(operation, "tx", time.Since(start), nil)
	return nil
}
