package storage

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/wispberry-tech/wispy-portal/core"
)

// PostgresStorage implements core.Storage for PostgreSQL databases
type PostgresStorage struct {
	*sqlStorage
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(databaseDSN string) (*PostgresStorage, error) {
	config, err := pgx.ParseConfig(databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	db := stdlib.OpenDB(*config)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	schemaManager := core.NewSchemaManager(db, "postgres")
	if err := schemaManager.EnsureCoreSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure core schema: %w", err)
	}

	return &PostgresStorage{sqlStorage: &sqlStorage{db: db, numbered: true}}, nil
}
