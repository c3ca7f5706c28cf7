package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// ConnectionPool manages registry database connections
type ConnectionPool struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConnectionPool opens the registry database and verifies connectivity
func NewConnectionPool(ctx context.Context, url string, logger *slog.Logger) (*ConnectionPool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The registry is shared by the async provisioning worker and the
	// synchronous fleet tool; keep the pool small and connections fresh
	// so short transactions never queue behind stale ones.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctxTest, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctxTest); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("registry database connected")
	return &ConnectionPool{db: db, logger: logger}, nil
}

// GetDB returns the underlying sql.DB connection
func (cp *ConnectionPool) GetDB() *sql.DB {
	return cp.db
}

// Close closes the database connection
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// Health checks the database health
func (cp *ConnectionPool) Health(ctx context.Context) error {
	ctxTest, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return cp.db.PingContext(ctxTest)
}

// EnsureSchema creates the tenants table if it does not exist.
// The UNIQUE constraint on subdomain is load-bearing: it is what turns a
// concurrent duplicate provision into a detectable insert conflict.
func (cp *ConnectionPool) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS tenants (
			subdomain         TEXT PRIMARY KEY,
			email             TEXT NOT NULL,
			port              INTEGER NOT NULL DEFAULT 0,
			plan              TEXT NOT NULL,
			billing_frequency TEXT NOT NULL DEFAULT 'monthly',
			org_name          TEXT NOT NULL DEFAULT '',
			mailbox_address   TEXT NOT NULL DEFAULT '',
			mailbox_password  TEXT NOT NULL DEFAULT '',
			forwarding_to     TEXT NOT NULL DEFAULT '',
			deployed          BOOLEAN NOT NULL DEFAULT FALSE,
			billing_customer  TEXT NOT NULL DEFAULT '',
			billing_sub       TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := cp.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
