// Package warehouse is the execution boundary: it opens Snowflake sessions
// and runs SQL text produced elsewhere. It never generates statements of
// its own.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sf "github.com/snowflakedb/gosnowflake"
)

// Config holds Snowflake connection parameters.
type Config struct {
	Account   string
	User      string
	Password  string
	Warehouse string
	Database  string
	Schema    string
	Role      string
}

func (cfg *Config) Validate() error {
	if cfg.Account == "" {
		return errors.New("account is required")
	}
	if cfg.User == "" {
		return errors.New("user is required")
	}
	if cfg.Password == "" {
		return errors.New("password is required")
	}
	if cfg.Warehouse == "" {
		return errors.New("warehouse is required")
	}
	if cfg.Database == "" {
		return errors.New("database is required")
	}
	if cfg.Schema == "" {
		return errors.New("schema is required")
	}
	return nil
}

// Client opens warehouse sessions.
type Client interface {
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

// Connection is one session. Session-scoped state (temporary tables,
// LAST_QUERY_ID) only holds within a single Connection, so a load's
// statements must all go through the same one.
type Connection interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Close() error
}

// Rows is a minimal row cursor over a query result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type client struct {
	db  *sql.DB
	log *slog.Logger
}

type connection struct {
	conn *sql.Conn
}

// NewClient opens a Snowflake client via the gosnowflake driver and
// verifies connectivity with a ping.
func NewClient(ctx context.Context, log *slog.Logger, cfg Config) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn, err := sf.DSN(&sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Warehouse: cfg.Warehouse,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Role:      cfg.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build Snowflake DSN: %w", err)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open Snowflake connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Snowflake: %w", err)
	}

	log.Info("Snowflake client initialized", "account", cfg.Account, "database", cfg.Database, "schema", cfg.Schema, "warehouse", cfg.Warehouse)

	return &client{db: db, log: log}, nil
}

// Conn checks a dedicated session out of the pool. Callers must Close it
// to return it.
func (c *client) Conn(ctx context.Context) (Connection, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire Snowflake session: %w", err)
	}
	return &connection{conn: conn}, nil
}

func (c *client) Close() error {
	return c.db.Close()
}

func (c *connection) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.conn.ExecContext(ctx, query, args...)
	return err
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *connection) Close() error {
	return c.conn.Close()
}
