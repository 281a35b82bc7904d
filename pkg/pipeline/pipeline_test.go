package pipeline

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"wildscan/pkg/cache"
	"wildscan/pkg/db"
	"wildscan/pkg/model"
	"wildscan/pkg/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, *db.DB) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	st := store.NewSQLiteStore(d)

	sightings, err := cache.NewSightingCache()
	if err != nil {
		t.Fatalf("sighting cache: %v", err)
	}
	longspawns, err := cache.NewLongSpawnCache()
	if err != nil {
		t.Fatalf("longspawn cache: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, sightings, longspawns, log), d
}

func TestDrainOnKill(t *testing.T) {
	p, d := newTestPipeline(t)

	future := time.Now().Add(10 * time.Minute).Unix()
	for i := 0; i < 5; i++ {
		p.AddSighting(model.Sighting{
			EncounterID: string(rune('a' + i)),
			SpeciesID:   100 + i,
			ExpireTS:    future,
			Lat:         float64(i),
			Lon:         float64(i),
		})
	}
	p.Kill()
	p.Wait()

	var count int
	row := d.QueryRow(`SELECT COUNT(*) FROM sightings`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 5 {
		t.Errorf("expected 5 persisted sightings, got %d", count)
	}
}

func TestDuplicateSwallowed(t *testing.T) {
	p, d := newTestPipeline(t)

	s := model.Sighting{EncounterID: "e1", SpeciesID: 25, ExpireTS: 1_700_000_121, Lat: 1, Lon: 1}
	dup := s
	dup.EncounterID = "e2"
	dup.ExpireTS = 1_700_000_115

	p.AddSighting(s)
	p.AddSighting(dup)
	p.AddFort(model.Fort{ExternalID: "f1", LastModified: 10})
	p.Kill()
	p.Wait()

	var count int
	row := d.QueryRow(`SELECT COUNT(*) FROM sightings`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected single sighting row, got %d", count)
	}
	row = d.QueryRow(`SELECT COUNT(*) FROM fort_sightings`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("fort enqueued after duplicate should still persist, got %d rows", count)
	}
}

func TestLongSpawnCached(t *testing.T) {
	p, d := newTestPipeline(t)

	ls := model.LongSpawn{
		Sighting:         model.Sighting{EncounterID: "e1", SpeciesID: 7, ExpireTS: 1_700_000_121, Lat: 2, Lon: 2},
		TimeTillHiddenMs: 4_000_000,
	}
	p.AddLongSpawn(ls)
	p.AddLongSpawn(ls)
	p.Kill()
	p.Wait()

	var count int
	row := d.QueryRow(`SELECT COUNT(*) FROM longspawn`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected single longspawn row, got %d", count)
	}
}
