package catalog

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"wildscan/pkg/db"
	"wildscan/pkg/geo"
	"wildscan/pkg/model"
	"wildscan/pkg/store"
)

func newTestCatalog(t *testing.T, snapshot string) (*Catalog, store.Store) {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to init DB: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	st := store.NewSQLiteStore(d)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(st, snapshot, log), st
}

func seed(t *testing.T, st store.Store) {
	t.Helper()
	for _, sp := range []model.Spawn{
		{ID: "b", Lat: 1, Lon: 1, OffsetS: 1800},
		{ID: "a", Lat: 0, Lon: 0, OffsetS: 60},
		{ID: "c", Lat: 2, Lon: 2, OffsetS: 3500},
	} {
		if err := st.UpsertSpawn(context.Background(), sp); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func TestUpdateFromDatabase(t *testing.T) {
	c, st := newTestCatalog(t, "")
	seed(t, st)

	if err := c.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	items := c.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 spawns, got %d", len(items))
	}
	if items[0].ID != "a" || items[2].ID != "c" {
		t.Errorf("spawns not in offset order: %v", items)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spawns.json")
	c, st := newTestCatalog(t, path)
	seed(t, st)

	if err := c.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := c.SaveSnapshot(); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	// A fresh catalog with an empty store should load from the file.
	fresh, _ := newTestCatalog(t, path)
	if err := fresh.Update(context.Background(), true); err != nil {
		t.Fatalf("Update from snapshot failed: %v", err)
	}
	if fresh.Len() != 3 {
		t.Errorf("expected 3 spawns from snapshot, got %d", fresh.Len())
	}
}

func TestSnapshotMissingFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	c, st := newTestCatalog(t, path)
	seed(t, st)

	if err := c.Update(context.Background(), true); err != nil {
		t.Fatalf("Update should fall back to database: %v", err)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 spawns, got %d", c.Len())
	}
}

func TestAfterLastAndStartPoint(t *testing.T) {
	c, st := newTestCatalog(t, "")
	seed(t, st)
	if err := c.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if c.AfterLast(3499) {
		t.Error("hour not past last offset yet")
	}
	if !c.AfterLast(3501) {
		t.Error("hour is past last offset")
	}

	if got := c.StartPointIndex(0); got != 0 {
		t.Errorf("start of hour should resume at index 0, got %d", got)
	}
	if got := c.StartPointIndex(100); got != 1 {
		t.Errorf("second 100 should resume at index 1, got %d", got)
	}
	// Within the 3s grace window the spawn still counts as upcoming.
	if got := c.StartPointIndex(62); got != 0 {
		t.Errorf("second 62 should still target index 0, got %d", got)
	}
}

func TestRecordInsertsInOrder(t *testing.T) {
	c, st := newTestCatalog(t, "")
	seed(t, st)
	if err := c.Update(context.Background(), false); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if err := c.Record(context.Background(), model.Spawn{ID: "d", OffsetS: 900}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	items := c.Items()
	if len(items) != 4 || items[1].ID != "d" {
		t.Errorf("new spawn not slotted by offset: %v", items)
	}

	// Re-recording an existing id updates in place.
	if err := c.Record(context.Background(), model.Spawn{ID: "d", OffsetS: 2000}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	items = c.Items()
	if len(items) != 4 || items[2].ID != "d" {
		t.Errorf("updated spawn not reordered: %v", items)
	}
}

func TestMysteries(t *testing.T) {
	c, _ := newTestCatalog(t, "")

	p := geo.Point{Lat: 1.00001, Lon: 2.00001}
	c.AddMystery(p)
	c.AddMystery(geo.Point{Lat: 1.00002, Lon: 2.00002}) // same rounded key
	c.AddMystery(geo.Point{Lat: 5, Lon: 5})

	if c.MysteriesCount() != 2 {
		t.Errorf("expected 2 mysteries, got %d", c.MysteriesCount())
	}
	c.ResolveMystery(p)
	if c.MysteriesCount() != 1 {
		t.Errorf("expected 1 mystery after resolve, got %d", c.MysteriesCount())
	}
}
