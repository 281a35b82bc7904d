package geo

import (
	"fmt"
	"math/rand"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

const metersPerMile = 1609.344

// Point represents a geographic coordinate with optional altitude in meters.
type Point struct {
	Lat float64
	Lon float64
	Alt float64
}

// Distance returns the great-circle distance between two points in meters.
func Distance(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(
		orb.Point{p1.Lon, p1.Lat},
		orb.Point{p2.Lon, p2.Lat},
	)
}

// Miles returns the great-circle distance between two points in miles.
func Miles(p1, p2 Point) float64 {
	return Distance(p1, p2) / metersPerMile
}

// RoundKey returns the point's coordinates rounded to the given number of
// decimals, formatted as a stable map key.
func RoundKey(p Point, decimals int) string {
	return fmt.Sprintf("%.*f,%.*f", decimals, p.Lat, decimals, p.Lon)
}

// Jitter returns a copy of p with lat/lon perturbed by up to ±amount degrees
// and altitude by up to ±altAmount meters.
func Jitter(p Point, amount, altAmount float64) Point {
	return Point{
		Lat: p.Lat + (rand.Float64()*2-1)*amount,
		Lon: p.Lon + (rand.Float64()*2-1)*amount,
		Alt: p.Alt + (rand.Float64()*2-1)*altAmount,
	}
}

// RandomAltitude returns a plausible altitude for points without one.
func RandomAltitude() float64 {
	return 300 + rand.Float64()*100
}

// Bounds describes the rectangular scan area.
type Bounds struct {
	Start Point
	End   Point
}

// CellCenter returns the center of the grid cell assigned to the given
// worker number, partitioning the bounds into rows×cols cells numbered
// row-major from Start.
func (b Bounds) CellCenter(workerNo, rows, cols int) Point {
	row := workerNo / cols
	col := workerNo % cols
	partLat := (b.End.Lat - b.Start.Lat) / float64(rows)
	partLon := (b.End.Lon - b.Start.Lon) / float64(cols)
	return Point{
		Lat: b.Start.Lat + partLat*float64(row) + partLat/2,
		Lon: b.Start.Lon + partLon*float64(col) + partLon/2,
	}
}

// BootstrapPoints returns a denser interior lattice used by the second
// bootstrap stage to cover visibility gaps between the cell centers. The
// lattice doubles the grid density in both axes.
func (b Bounds) BootstrapPoints(rows, cols int) []Point {
	dRows := rows * 2
	dCols := cols * 2
	partLat := (b.End.Lat - b.Start.Lat) / float64(dRows)
	partLon := (b.End.Lon - b.Start.Lon) / float64(dCols)
	points := make([]Point, 0, dRows*dCols)
	for r := 0; r < dRows; r++ {
		for c := 0; c < dCols; c++ {
			points = append(points, Point{
				Lat: b.Start.Lat + partLat*float64(r) + partLat/2,
				Lon: b.Start.Lon + partLon*float64(c) + partLon/2,
			})
		}
	}
	return points
}
