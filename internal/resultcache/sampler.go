package resultcache

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
)

// DefaultMaxPoints bounds a geometry preview.
const DefaultMaxPoints = 100

// Sample returns a bounded coordinate preview of a cached result's geometry
// without handing the caller the whole payload. LineStrings and the outer
// ring of Polygons are sampled uniformly by index; MultiPolygons only report
// counts, since uniform sampling across disjoint rings would be meaningless.
func (c *Cache) Sample(cacheID string, maxPoints int) (model.SampledGeometry, error) {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	entry, err := c.readMeta(cacheID)
	if err != nil {
		return model.SampledGeometry{}, err
	}
	if time.Now().After(entry.ExpiresAt) {
		c.remove(cacheID)
		return model.SampledGeometry{}, geoerr.NotFound("cache entry " + cacheID + " (expired)")
	}

	raw, err := os.ReadFile(entry.FilePath)
	if err != nil {
		return model.SampledGeometry{}, geoerr.NotFound("cache entry " + cacheID)
	}
	var result struct {
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
		BBox any `json:"bbox"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.SampledGeometry{}, fmt.Errorf("parse cached result %s: %w", cacheID, err)
	}
	if result.Geometry.Type == "" {
		return model.SampledGeometry{}, geoerr.EmptyResult("the cached result has no geometry field")
	}

	out := model.SampledGeometry{
		CacheID:      cacheID,
		GeometryType: result.Geometry.Type,
		BBox:         result.BBox,
	}

	switch result.Geometry.Type {
	case "LineString":
		var coords []any
		if err := json.Unmarshal(result.Geometry.Coordinates, &coords); err != nil {
			return model.SampledGeometry{}, fmt.Errorf("parse cached coordinates: %w", err)
		}
		fillSample(&out, coords, maxPoints)
	case "Polygon":
		var rings [][]any
		if err := json.Unmarshal(result.Geometry.Coordinates, &rings); err != nil {
			return model.SampledGeometry{}, fmt.Errorf("parse cached coordinates: %w", err)
		}
		if len(rings) == 0 {
			return model.SampledGeometry{}, geoerr.EmptyResult("the cached polygon has no rings")
		}
		fillSample(&out, rings[0], maxPoints)
	case "MultiPolygon":
		var polys [][][]any
		if err := json.Unmarshal(result.Geometry.Coordinates, &polys); err != nil {
			return model.SampledGeometry{}, fmt.Errorf("parse cached coordinates: %w", err)
		}
		total := 0
		for _, p := range polys {
			for _, r := range p {
				total += len(r)
			}
		}
		out.TotalPoints = total
		out.PolygonsCount = len(polys)
		out.Sampled = false
		out.Message = fmt.Sprintf(
			"multipolygon with %d polygons and %d points is not sampled; use export for full access",
			len(polys), total)
	default:
		return model.SampledGeometry{}, geoerr.Processing(
			fmt.Errorf("geometry type %s cannot be sampled", result.Geometry.Type))
	}
	return out, nil
}

// fillSample applies the uniform index selection: everything when the ring
// fits, otherwise indices 0, floor(i*step), ..., total-1 with
// step = total/maxPoints, so both endpoints always survive.
func fillSample(out *model.SampledGeometry, coords []any, maxPoints int) {
	total := len(coords)
	out.TotalPoints = total
	if total <= maxPoints {
		out.Coordinates = coords
		out.Sampled = false
		return
	}

	step := float64(total) / float64(maxPoints)
	picked := make([]any, 0, maxPoints)
	picked = append(picked, coords[0])
	for i := 1; i <= maxPoints-2; i++ {
		idx := int(float64(i) * step)
		if idx >= total-1 {
			idx = total - 2
		}
		picked = append(picked, coords[idx])
	}
	picked = append(picked, coords[total-1])

	out.Coordinates = picked
	out.Sampled = true
	out.SamplingRatio = fmt.Sprintf("%d/%d", len(picked), total)
}
