package model

import "testing"

func TestNormalizeTimestamp(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{1_700_000_121, 1_700_000_040},
		{1_700_000_115, 1_700_000_040},
		{0, 0},
		{119, 0},
		{120, 120},
	}
	for _, c := range cases {
		if got := NormalizeTimestamp(c.in); got != c.want {
			t.Errorf("NormalizeTimestamp(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestNormalizeTimestampIdempotent(t *testing.T) {
	for _, ts := range []int64{1, 119, 1_700_000_121, 1_700_000_115} {
		once := NormalizeTimestamp(ts)
		if NormalizeTimestamp(once) != once {
			t.Errorf("not idempotent for %d", ts)
		}
		if once > ts || ts >= once+120 {
			t.Errorf("window law violated for %d: window start %d", ts, once)
		}
	}
}

func TestSightingKeyCollision(t *testing.T) {
	a := Sighting{SpeciesID: 25, ExpireTS: 1_700_000_121, Lat: 0.1, Lon: 0.1}
	b := Sighting{SpeciesID: 25, ExpireTS: 1_700_000_115, Lat: 0.1, Lon: 0.1}
	if a.Key() != b.Key() {
		t.Error("sightings in the same window should share a key")
	}

	c := Sighting{SpeciesID: 26, ExpireTS: 1_700_000_121, Lat: 0.1, Lon: 0.1}
	if a.Key() == c.Key() {
		t.Error("different species should not collide")
	}
}
