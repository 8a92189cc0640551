package resultcache

import (
	"encoding/json"
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"
)

// OperationKind selects the summary strategy for a tool's results.
type OperationKind int

const (
	KindGeneric OperationKind = iota
	KindRoute
	KindIsochrone
	KindFeatureCollection
	KindElevationProfile
)

// coverageResolution is the H3 resolution of the coarse coverage cell
// recorded on geolocated summaries.
const coverageResolution = 5

var toolKinds = map[string]OperationKind{
	"calculate_route":       KindRoute,
	"calculate_isochrone":   KindIsochrone,
	"calculate_isodistance": KindIsochrone,
	"get_wfs_features":      KindFeatureCollection,
	"get_elevation_line":    KindElevationProfile,
}

func kindForTool(tool string) OperationKind {
	return toolKinds[tool]
}

// summarizer builds the inline summary for one kind of result.
type summarizer func(result, params map[string]any) map[string]any

var summarizers = map[OperationKind]summarizer{
	KindRoute:             summarizeRoute,
	KindIsochrone:         summarizeIsochrone,
	KindFeatureCollection: summarizeFeatureCollection,
	KindElevationProfile:  summarizeElevation,
	KindGeneric:           summarizeGeneric,
}

func summarize(kind OperationKind, result, params map[string]any) map[string]any {
	s := summarizers[kind](result, params)
	if cell, ok := coverageCell(result); ok {
		s["h3_coverage_cell"] = cell
	}
	return s
}

func summarizeRoute(result, _ map[string]any) map[string]any {
	s := map[string]any{}
	copyKeys(s, result, "distance", "duration", "bbox", "resource", "profile")

	if coords := geometryCoords(result); len(coords) > 0 {
		s["geometry_points"] = len(coords)
		s["geometry_sample"] = []any{coords[0], coords[len(coords)-1]}
		s["start"] = coords[0]
		s["end"] = coords[len(coords)-1]
	}

	// step count across every route portion
	steps := 0
	if portions, ok := result["portions"].([]any); ok {
		for _, p := range portions {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if ss, ok := pm["steps"].([]any); ok {
				steps += len(ss)
			}
		}
	}
	if ss, ok := result["steps"].([]any); ok {
		steps += len(ss)
	}
	s["steps_count"] = steps
	return s
}

func summarizeIsochrone(result, _ map[string]any) map[string]any {
	s := map[string]any{}
	copyKeys(s, result, "point", "costValue", "costType", "direction", "resource", "profile", "bbox")

	geomType, _ := geometryField(result)["type"].(string)
	switch geomType {
	case "Polygon":
		if rings, ok := geometryField(result)["coordinates"].([]any); ok && len(rings) > 0 {
			if outer, ok := rings[0].([]any); ok {
				s["polygon_points"] = len(outer)
			}
		}
	case "MultiPolygon":
		polys, _ := geometryField(result)["coordinates"].([]any)
		total, rings := 0, 0
		for _, p := range polys {
			pr, ok := p.([]any)
			if !ok {
				continue
			}
			rings += len(pr)
			for _, r := range pr {
				if ring, ok := r.([]any); ok {
					total += len(ring)
				}
			}
		}
		s["polygons_count"] = len(polys)
		s["rings_count"] = rings
		s["total_points"] = total
		s["note"] = "multipolygon too complex to summarize further"
	}
	return s
}

func summarizeFeatureCollection(result, params map[string]any) map[string]any {
	s := map[string]any{}
	feats, _ := result["features"].([]any)
	s["features_count"] = len(feats)
	if bbox, ok := params["bbox"]; ok {
		s["bbox"] = bbox
	}
	s["query"] = params

	// one example feature, geometry replaced by its shape and raw size
	if len(feats) > 0 {
		if f, ok := feats[0].(map[string]any); ok {
			example := map[string]any{}
			for k, v := range f {
				if k != "geometry" {
					example[k] = v
					continue
				}
				gm, _ := v.(map[string]any)
				raw, _ := json.Marshal(gm["coordinates"])
				example["geometry"] = map[string]any{
					"type":                  gm["type"],
					"coordinate_char_count": len(raw),
				}
			}
			s["example_feature"] = example
		}
	}
	return s
}

func summarizeElevation(result, _ map[string]any) map[string]any {
	s := map[string]any{}
	elevs, _ := result["elevations"].([]any)
	s["points_count"] = len(elevs)

	var alts []float64
	for _, e := range elevs {
		em, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if z, ok := toNumber(em["z"]); ok {
			alts = append(alts, z)
		}
	}
	if len(alts) > 0 {
		min, max := alts[0], alts[0]
		for _, z := range alts[1:] {
			if z < min {
				min = z
			}
			if z > max {
				max = z
			}
		}
		s["min_altitude"] = min
		s["max_altitude"] = max
		s["altitude_range"] = max - min
	}
	if n := len(elevs); n > 4 {
		s["sample"] = []any{elevs[0], elevs[1], elevs[n-2], elevs[n-1]}
	} else {
		s["sample"] = elevs
	}
	return s
}

func summarizeGeneric(result, _ map[string]any) map[string]any {
	raw, _ := json.Marshal(result)
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return map[string]any{
		"size_bytes": len(raw),
		"keys":       keys,
	}
}

func copyKeys(dst, src map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := src[k]; ok {
			dst[k] = v
		}
	}
}

func geometryField(result map[string]any) map[string]any {
	g, _ := result["geometry"].(map[string]any)
	return g
}

// geometryCoords returns the flat coordinate list of a LineString geometry.
func geometryCoords(result map[string]any) []any {
	coords, _ := geometryField(result)["coordinates"].([]any)
	return coords
}

// coverageCell maps the result bbox center to a coarse H3 cell, giving
// summaries a cheap spatial grouping key.
func coverageCell(result map[string]any) (string, bool) {
	bbox, ok := result["bbox"].([]any)
	if !ok || len(bbox) != 4 {
		return "", false
	}
	vals := make([]float64, 4)
	for i, v := range bbox {
		f, ok := toNumber(v)
		if !ok {
			return "", false
		}
		vals[i] = f
	}
	lng := (vals[0] + vals[2]) / 2
	lat := (vals[1] + vals[3]) / 2
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", false
	}
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, coverageResolution)
	if err != nil {
		return "", false
	}
	return cell.String(), true
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%g", &f)
		return f, err == nil
	}
	return 0, false
}
