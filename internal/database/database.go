package database

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}

	// Initialize tables and run migrations
	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.migrateSchema(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetConnection returns the underlying database connection
func (db *DB) GetConnection() *sql.DB {
	return db.conn
}

// createTables creates the necessary tables
func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			chat_xp_per_message BIGINT NOT NULL DEFAULT 10,
			voice_xp_per_minute BIGINT NOT NULL DEFAULT 5,
			required_role_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS guild_ranks (
			guild_id TEXT NOT NULL,
			threshold BIGINT NOT NULL,
			name TEXT NOT NULL,
			PRIMARY KEY (guild_id, threshold)
		)`,
		`CREATE TABLE IF NOT EXISTS guild_rank_roles (
			guild_id TEXT NOT NULL,
			threshold BIGINT NOT NULL,
			role_id TEXT NOT NULL,
			PRIMARY KEY (guild_id, threshold)
		)`,
		`CREATE TABLE IF NOT EXISTS member_xp (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			xp BIGINT NOT NULL DEFAULT 0,
			last_message_at TIMESTAMPTZ,
			PRIMARY KEY (guild_id, user_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// migrateSchema handles database schema migrations
func (db *DB) migrateSchema() error {
	migrations := []string{
		// Older deployments tracked only xp
		`ALTER TABLE member_xp ADD COLUMN IF NOT EXISTS last_message_at TIMESTAMPTZ`,
		`ALTER TABLE guild_settings ADD COLUMN IF NOT EXISTS required_role_id TEXT`,

		// Rates and thresholds are never negative
		`ALTER TABLE guild_settings ADD CONSTRAINT guild_settings_rates_check
			CHECK (chat_xp_per_message >= 0 AND voice_xp_per_minute >= 0)`,
		`ALTER TABLE guild_ranks ADD CONSTRAINT guild_ranks_threshold_check CHECK (threshold >= 0)`,
		`ALTER TABLE guild_rank_roles ADD CONSTRAINT guild_rank_roles_threshold_check CHECK (threshold >= 0)`,

		// Leaderboard lookups
		`CREATE INDEX IF NOT EXISTS member_xp_guild_xp_idx ON member_xp (guild_id, xp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			log.Printf("Warning: Migration failed (this might be expected): %v", err)
		}
	}

	return nil
}
