package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"wildscan/pkg/db"
	"wildscan/pkg/model"
)

// ErrDuplicate is returned when an insert trips the sighting uniqueness
// index. Callers are expected to swallow it.
var ErrDuplicate = errors.New("duplicate row")

// Store defines the repository interface consumed by the pipeline and the
// spawn catalog.
type Store interface {
	AddSighting(ctx context.Context, s model.Sighting) error
	AddLongSpawn(ctx context.Context, ls model.LongSpawn) error
	AddFort(ctx context.Context, f model.Fort) error
	UpsertSpawn(ctx context.Context, sp model.Spawn) error
	LoadSpawns(ctx context.Context) ([]model.Spawn, error)
	SpeciesRanking(ctx context.Context) ([]int, error)
	Checkpoint(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates a new store.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AddSighting(ctx context.Context, sighting model.Sighting) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sightings (encounter_id, species_id, spawn_id, expire_timestamp, normalized_timestamp, lat, lon)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sighting.EncounterID, sighting.SpeciesID, sighting.SpawnID,
		sighting.ExpireTS, sighting.NormalizedTS(), sighting.Lat, sighting.Lon,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) AddLongSpawn(ctx context.Context, ls model.LongSpawn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO longspawn (encounter_id, species_id, spawn_id, expire_timestamp, normalized_timestamp, lat, lon, time_till_hidden_ms, last_modified_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (species_id, normalized_timestamp, lat, lon) DO UPDATE SET
			expire_timestamp = excluded.expire_timestamp,
			time_till_hidden_ms = excluded.time_till_hidden_ms,
			last_modified_ms = excluded.last_modified_ms`,
		ls.EncounterID, ls.SpeciesID, ls.SpawnID,
		ls.ExpireTS, ls.NormalizedTS(), ls.Lat, ls.Lon,
		ls.TimeTillHiddenMs, ls.LastModifiedMs,
	)
	return err
}

func (s *SQLiteStore) AddFort(ctx context.Context, f model.Fort) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fort_sightings (external_id, lat, lon, team, prestige, guard_species_id, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
			lat = excluded.lat,
			lon = excluded.lon,
			team = excluded.team,
			prestige = excluded.prestige,
			guard_species_id = excluded.guard_species_id,
			last_modified = excluded.last_modified
		 WHERE excluded.last_modified > fort_sightings.last_modified`,
		f.ExternalID, f.Lat, f.Lon, f.Team, f.Prestige, f.GuardSpeciesID, f.LastModified,
	)
	return err
}

func (s *SQLiteStore) UpsertSpawn(ctx context.Context, sp model.Spawn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO spawns (spawn_id, lat, lon, alt, offset_s)
		 VALUES (?, ?, ?, ?, ?)`,
		sp.ID, sp.Lat, sp.Lon, sp.Alt, sp.OffsetS,
	)
	return err
}

func (s *SQLiteStore) LoadSpawns(ctx context.Context) ([]model.Spawn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spawn_id, lat, lon, alt, offset_s FROM spawns ORDER BY offset_s ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spawns []model.Spawn
	for rows.Next() {
		var sp model.Spawn
		var alt sql.NullFloat64
		if err := rows.Scan(&sp.ID, &sp.Lat, &sp.Lon, &alt, &sp.OffsetS); err != nil {
			return nil, err
		}
		if alt.Valid {
			sp.Alt = alt.Float64
		}
		spawns = append(spawns, sp)
	}
	return spawns, rows.Err()
}

// SpeciesRanking returns species ids ordered rarest first, derived from
// sighting counts. Used to seed the notifier's eligibility ladder.
func (s *SQLiteStore) SpeciesRanking(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT species_id FROM sightings GROUP BY species_id ORDER BY COUNT(*) ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranking []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ranking = append(ranking, id)
	}
	return ranking, rows.Err()
}

// Checkpoint flushes the WAL into the main database file. The pipeline
// calls this on its periodic commit signal.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE);")
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
