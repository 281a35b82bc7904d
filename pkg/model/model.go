package model

import "fmt"

// NormalizeTimestamp buckets an expiry timestamp into 120-second windows.
// Two observations of the same spawn whose expiries land in the same window
// normalize to the same value and are treated as duplicates.
func NormalizeTimestamp(ts int64) int64 {
	return (ts / 120) * 120
}

// Sighting is a time-bounded observation of a transient entity.
type Sighting struct {
	EncounterID string
	SpeciesID   int
	SpawnID     string
	ExpireTS    int64
	Lat         float64
	Lon         float64
}

// NormalizedTS returns the de-duplication window of the sighting.
func (s Sighting) NormalizedTS() int64 {
	return NormalizeTimestamp(s.ExpireTS)
}

// Key returns the composite de-duplication fingerprint. At most one row per
// key may exist in storage or cache.
func (s Sighting) Key() string {
	return fmt.Sprintf("%d/%d/%.6f/%.6f", s.SpeciesID, s.NormalizedTS(), s.Lat, s.Lon)
}

// LongSpawn is a sighting whose time-till-hidden fell outside the normal
// range, stored separately with the raw timing fields preserved.
type LongSpawn struct {
	Sighting
	TimeTillHiddenMs int64
	LastModifiedMs   int64
}

// Fort is a persistent landmark whose metadata is updated by observations.
type Fort struct {
	ExternalID     string
	Lat            float64
	Lon            float64
	Team           int
	Prestige       int
	GuardSpeciesID int
	LastModified   int64
}

// Spawn is a geographic point with a known within-hour reactivation offset.
type Spawn struct {
	ID      string
	Lat     float64
	Lon     float64
	Alt     float64
	OffsetS int64
}
