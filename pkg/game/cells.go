package game

import (
	"fmt"
	"sync"

	"github.com/uber/h3-go/v4"

	"wildscan/pkg/geo"
)

const (
	// cellResolution and cellRingRadius cover roughly the visible radius of
	// one map-objects request.
	cellResolution = 9
	cellRingRadius = 4

	// cellKeyDecimals keys the memo table; five decimals is ~1m, well below
	// the jitter applied to visit points.
	cellKeyDecimals = 5
)

// CellTable memoizes cell-ID covers by rounded coordinate. Safe for
// concurrent use; duplicate computation for the same key is harmless.
type CellTable struct {
	cells sync.Map // rounded "lat,lon" -> []uint64
}

// NewCellTable creates an empty table.
func NewCellTable() *CellTable {
	return &CellTable{}
}

// Cover returns the cell IDs for a map-objects request at p, computing and
// caching them on first use.
func (t *CellTable) Cover(p geo.Point) ([]uint64, error) {
	key := geo.RoundKey(p, cellKeyDecimals)
	if v, ok := t.cells.Load(key); ok {
		return v.([]uint64), nil
	}
	ids, err := computeCover(p)
	if err != nil {
		return nil, err
	}
	t.cells.Store(key, ids)
	return ids, nil
}

func computeCover(p geo.Point) ([]uint64, error) {
	origin, err := h3.LatLngToCell(h3.NewLatLng(p.Lat, p.Lon), cellResolution)
	if err != nil {
		return nil, fmt.Errorf("cell for %.5f,%.5f: %w", p.Lat, p.Lon, err)
	}
	disk, err := h3.GridDisk(origin, cellRingRadius)
	if err != nil {
		return nil, fmt.Errorf("grid disk: %w", err)
	}
	ids := make([]uint64, len(disk))
	for i, c := range disk {
		ids[i] = uint64(c)
	}
	return ids, nil
}
