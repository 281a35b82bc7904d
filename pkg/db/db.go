package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			encounter_id TEXT,
			species_id INTEGER,
			spawn_id TEXT,
			expire_timestamp INTEGER,
			normalized_timestamp INTEGER,
			lat REAL,
			lon REAL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ix_sightings_dedup
			ON sightings (species_id, normalized_timestamp, lat, lon);`,
		`CREATE TABLE IF NOT EXISTS longspawn (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			encounter_id TEXT,
			species_id INTEGER,
			spawn_id TEXT,
			expire_timestamp INTEGER,
			normalized_timestamp INTEGER,
			lat REAL,
			lon REAL,
			time_till_hidden_ms INTEGER,
			last_modified_ms INTEGER
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ix_longspawn_dedup
			ON longspawn (species_id, normalized_timestamp, lat, lon);`,
		`CREATE TABLE IF NOT EXISTS fort_sightings (
			external_id TEXT PRIMARY KEY,
			lat REAL,
			lon REAL,
			team INTEGER,
			prestige INTEGER,
			guard_species_id INTEGER,
			last_modified INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS spawns (
			spawn_id TEXT PRIMARY KEY,
			lat REAL,
			lon REAL,
			alt REAL,
			offset_s INTEGER
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	return nil
}
