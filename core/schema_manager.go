package core

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// requiredTables lists every table the SQL storages read and write.
var requiredTables = []string{
	"users",
	"user_security",
	"sessions",
	"verifications",
	"organizations",
	"members",
	"invitations",
	"subscriptions",
	"oauth_states",
	"security_events",
}

// SchemaManager handles schema creation and validation
type SchemaManager struct {
	db     *sql.DB
	dbType string // "sqlite" or "postgres"
}

// NewSchemaManager creates a new schema manager
func NewSchemaManager(db *sql.DB, dbType string) *SchemaManager {
	return &SchemaManager{db: db, dbType: dbType}
}

// EnsureCoreSchema creates missing tables and validates the result.
func (sm *SchemaManager) EnsureCoreSchema() error {
	if err := sm.ExecuteCoreSchema(); err != nil {
		return err
	}
	return sm.ValidateSchema()
}

// ExecuteCoreSchema executes the core schema SQL to create tables
func (sm *SchemaManager) ExecuteCoreSchema() error {
	var schemaFile string

	switch sm.dbType {
	case "sqlite":
		schemaFile = "sql/sqlite_core.sql"
	case "postgres":
		schemaFile = "sql/postgres_core.sql"
	default:
		return fmt.Errorf("unsupported database type: %s", sm.dbType)
	}

	schemaSQL, err := schemaFiles.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema file %s: %w", schemaFile, err)
	}

	if _, err := sm.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute core schema: %w", err)
	}

	return nil
}

// tableExists checks if a table exists in the database
func (sm *SchemaManager) tableExists(tableName string) (bool, error) {
	var query string

	switch sm.dbType {
	case "sqlite":
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name = ?`
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables
		         WHERE table_schema = 'public' AND table_name = $1`
	default:
		return false, fmt.Errorf("unsupported database type: %s", sm.dbType)
	}

	var foundTable string
	err := sm.db.QueryRow(query, tableName).Scan(&foundTable)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return foundTable == tableName, nil
}

// ValidateSchema checks that every required table exists
func (sm *SchemaManager) ValidateSchema() error {
	var missingTables []string
	for _, tableName := range requiredTables {
		exists, err := sm.tableExists(tableName)
		if err != nil {
			return fmt.Errorf("failed to check if table %s exists: %w", tableName, err)
		}
		if !exists {
			missingTables = append(missingTables, tableName)
		}
	}

	if len(missingTables) > 0 {
		return fmt.Errorf("schema validation failed: missing tables %s", strings.Join(missingTables, ", "))
	}

	slog.Debug("Schema validation passed", "database_type", sm.dbType)
	return nil
}
