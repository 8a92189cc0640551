package resultcache

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openterra/geodata-tools/internal/geoerr"
)

func TestSample_SmallLineString_ReturnsAllPoints(t *testing.T) {
	c := testCache(t, time.Hour)
	receipt, _ := c.Put(lineResult(10), "calculate_route", nil)

	s, err := c.Sample(receipt.CacheID, 100)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.Sampled {
		t.Fatal("small geometry marked sampled")
	}
	coords := s.Coordinates.([]any)
	if len(coords) != 10 || s.TotalPoints != 10 {
		t.Fatalf("coords=%d total=%d want 10", len(coords), s.TotalPoints)
	}
}

func TestSample_LargeLineString_BoundedWithEndpoints(t *testing.T) {
	c := testCache(t, time.Hour)
	receipt, _ := c.Put(lineResult(1000), "calculate_route", nil)

	s, err := c.Sample(receipt.CacheID, 50)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !s.Sampled {
		t.Fatal("large geometry not marked sampled")
	}
	coords := s.Coordinates.([]any)
	if len(coords) > 50 {
		t.Fatalf("returned %d points, budget 50", len(coords))
	}
	first := coords[0].([]any)
	last := coords[len(coords)-1].([]any)
	if first[0].(float64) != 0 {
		t.Fatalf("first point %v is not the original start", first)
	}
	if last[0].(float64) != 999 {
		t.Fatalf("last point %v is not the original end", last)
	}
	if s.SamplingRatio != "50/1000" {
		t.Fatalf("ratio=%q want 50/1000", s.SamplingRatio)
	}
	if s.TotalPoints != 1000 {
		t.Fatalf("total=%d want 1000", s.TotalPoints)
	}
}

func TestSample_DefaultMaxPoints_Is100(t *testing.T) {
	c := testCache(t, time.Hour)
	receipt, _ := c.Put(lineResult(500), "calculate_route", nil)

	s, err := c.Sample(receipt.CacheID, 0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if n := len(s.Coordinates.([]any)); n != 100 {
		t.Fatalf("points=%d want 100", n)
	}
}

func TestSample_PolygonOuterRingOnly(t *testing.T) {
	c := testCache(t, time.Hour)
	outer := make([]any, 300)
	for i := range outer {
		outer[i] = []any{float64(i), 0.0}
	}
	hole := []any{[]any{1.0, 1.0}, []any{2.0, 1.0}, []any{2.0, 2.0}, []any{1.0, 1.0}}
	result := map[string]any{
		"geometry": map[string]any{
			"type":        "Polygon",
			"coordinates": []any{outer, hole},
		},
	}
	receipt, _ := c.Put(result, "calculate_isochrone", nil)

	s, err := c.Sample(receipt.CacheID, 20)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.TotalPoints != 300 {
		t.Fatalf("total=%d want 300 (outer ring only)", s.TotalPoints)
	}
	if n := len(s.Coordinates.([]any)); n > 20 {
		t.Fatalf("points=%d budget 20", n)
	}
}

func TestSample_MultiPolygon_RefusedWithCounts(t *testing.T) {
	c := testCache(t, time.Hour)
	ring := func(n int) []any {
		r := make([]any, n)
		for i := range r {
			r[i] = []any{float64(i), float64(i)}
		}
		return r
	}
	result := map[string]any{
		"geometry": map[string]any{
			"type": "MultiPolygon",
			"coordinates": []any{
				[]any{ring(10)},
				[]any{ring(20), ring(5)},
			},
		},
	}
	receipt, _ := c.Put(result, "calculate_isochrone", nil)

	s, err := c.Sample(receipt.CacheID, 100)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.Coordinates != nil {
		t.Fatal("multipolygon returned coordinates")
	}
	if s.PolygonsCount != 2 || s.TotalPoints != 35 {
		t.Fatalf("counts polygons=%d points=%d want 2/35", s.PolygonsCount, s.TotalPoints)
	}
	if !strings.Contains(s.Message, "export") {
		t.Fatalf("message %q does not point at export", s.Message)
	}
}

func TestSample_UnknownID_NotFound(t *testing.T) {
	c := testCache(t, time.Hour)
	_, err := c.Sample("ghost_0_00000000", 10)
	if !errors.Is(err, geoerr.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestSample_CarriesStoredBBox(t *testing.T) {
	c := testCache(t, time.Hour)
	receipt, _ := c.Put(lineResult(10), "calculate_route", nil)
	s, err := c.Sample(receipt.CacheID, 100)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if s.BBox == nil {
		t.Fatal("bbox not carried through")
	}
}
