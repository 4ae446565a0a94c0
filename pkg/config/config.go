// Package config loads connection settings from the environment, with an
// optional .env file for local development.
package config

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/oakdata/ingest/pkg/errclass"
	"github.com/oakdata/ingest/pkg/objectstore"
	"github.com/oakdata/ingest/pkg/warehouse"
)

// Env holds everything the loader reads from the environment. Flag-level
// settings (CSV path, table name, subset config) stay in main.
type Env struct {
	Snowflake warehouse.Config
	Store     StoreEnv
	SentryDSN string
	PushURL   string
}

// StoreEnv mirrors objectstore.Config minus the logger, which the caller
// wires in after constructing it.
type StoreEnv struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Load reads settings from the environment. A .env file in the working
// directory is applied first when present; real environment variables win
// over it.
func Load() (*Env, error) {
	// godotenv.Load does not override variables already set, so exported
	// env always takes precedence over the file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errclass.Configf("failed to load .env: %v", err)
	}

	env := &Env{
		Snowflake: warehouse.Config{
			Account:   os.Getenv("SNOWFLAKE_ACCOUNT"),
			User:      os.Getenv("SNOWFLAKE_USER"),
			Password:  os.Getenv("SNOWFLAKE_PASSWORD"),
			Warehouse: os.Getenv("SNOWFLAKE_WAREHOUSE"),
			Database:  getenv("SNOWFLAKE_DATABASE", "ANALYTICS"),
			Schema:    getenv("SNOWFLAKE_SCHEMA", "PUBLIC"),
			Role:      os.Getenv("SNOWFLAKE_ROLE"),
		},
		Store: StoreEnv{
			Endpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    getenv("MINIO_BUCKET", "ingest"),
			Secure:    os.Getenv("MINIO_SECURE") == "true",
		},
		SentryDSN: os.Getenv("SENTRY_DSN"),
		PushURL:   os.Getenv("METRICS_PUSH_URL"),
	}

	if err := env.Snowflake.Validate(); err != nil {
		return nil, errclass.Configf("snowflake settings: %v", err)
	}

	return env, nil
}

// StoreConfig binds the store settings to a logger, producing a config
// the object store constructor accepts.
func (e *Env) StoreConfig(log *slog.Logger) *objectstore.Config {
	return &objectstore.Config{
		Logger:    log,
		Endpoint:  e.Store.Endpoint,
		AccessKey: e.Store.AccessKey,
		SecretKey: e.Store.SecretKey,
		Bucket:    e.Store.Bucket,
		Secure:    e.Store.Secure,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
