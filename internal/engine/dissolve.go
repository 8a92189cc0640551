package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"sort"

	"github.com/samber/lo"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/crs"
	"github.com/openterra/geodata-tools/internal/geocodec"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

type DissolveRequest struct {
	Data         string
	InputFormat  string
	By           string
	Aggregations map[string]string
	SourceCRS    string
	TargetCRS    string
	OutputFormat string
}

// Dissolve groups rows by the value of the By attribute (all rows into one
// group when By is empty) and merges each group's geometries into one
// possibly multi-part geometry. Non-geometry attributes reduce per
// Aggregations; anything unnamed keeps the group's first value.
func (e *Engine) Dissolve(req DissolveRequest) (model.Envelope, error) {
	for name, red := range req.Aggregations {
		switch red {
		case "sum", "mean", "min", "max", "first":
		default:
			return model.Envelope{}, geoerr.InvalidStyleParameter("aggregations."+name, red)
		}
	}
	target, err := crs.Parse(req.TargetCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	if target != crs.Unknown {
		fc, err = crs.Reproject(fc, target)
		if err != nil {
			return model.Envelope{}, err
		}
	}

	groups := lo.GroupBy(fc.Rows, func(r model.Row) string {
		if req.By == "" {
			return ""
		}
		return fmt.Sprint(r.Attrs[req.By])
	})
	keys := lo.Keys(groups)
	sort.Strings(keys)

	out := model.FeatureCollection{EPSG: fc.EPSG, Rows: make([]model.Row, 0, len(keys))}
	for _, key := range keys {
		rows := groups[key]
		merged, err := mergeGeometries(rows)
		if err != nil {
			return model.Envelope{}, geoerr.Processing(err)
		}
		out.Rows = append(out.Rows, model.Row{
			Attrs: reduceAttrs(rows, req.Aggregations),
			Geom:  merged,
		})
	}
	e.log.Debug("dissolved",
		slog.Int("rows_in", len(fc.Rows)),
		slog.Int("groups", len(out.Rows)),
		slog.String("by", req.By))
	return geocodec.Dump(out, req.OutputFormat)
}

// mergeGeometries fuses a group's geometries: areal groups union, puntal and
// lineal groups collect into the matching multi type, mixed dimensions fall
// back to a geometry collection of the simple parts.
func mergeGeometries(rows []model.Row) (geom.Geometry, error) {
	var simple []geom.Geometry
	for _, r := range rows {
		if parts := r.Geom.Parts(); parts != nil {
			simple = append(simple, parts...)
		} else {
			simple = append(simple, r.Geom)
		}
	}
	if len(simple) == 1 {
		return simple[0], nil
	}

	dim := simple[0].Dimension()
	mixed := false
	for _, g := range simple[1:] {
		if g.Dimension() != dim {
			mixed = true
			break
		}
	}
	if mixed {
		return geom.Geometry{Type: geom.TypeCollection, Geometries: simple}, nil
	}

	switch dim {
	case 2:
		return geom.UnionAll(simple...)
	case 1:
		out := geom.Geometry{Type: geom.TypeMultiLineString}
		for _, g := range simple {
			out.MultiLine = append(out.MultiLine, g.Line)
		}
		return out, nil
	default:
		out := geom.Geometry{Type: geom.TypeMultiPoint}
		for _, g := range simple {
			out.MultiPoint = append(out.MultiPoint, g.Point)
		}
		return out, nil
	}
}

func reduceAttrs(rows []model.Row, aggs map[string]string) map[string]any {
	out := map[string]any{}
	for _, r := range rows {
		for k, v := range r.Attrs {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	for name, red := range aggs {
		if red == "first" {
			continue
		}
		var vals []float64
		for _, r := range rows {
			if f, ok := toFloat(r.Attrs[name]); ok {
				vals = append(vals, f)
			}
		}
		if len(vals) == 0 {
			continue
		}
		switch red {
		case "sum":
			out[name] = lo.Sum(vals)
		case "mean":
			out[name] = lo.Sum(vals) / float64(len(vals))
		case "min":
			out[name] = lo.Min(vals)
		case "max":
			out[name] = lo.Max(vals)
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

type ExplodeRequest struct {
	Data         string
	InputFormat  string
	SourceCRS    string
	KeepIndex    bool
	OutputFormat string
}

// Explode emits one row per constituent simple geometry of each multi-part
// row, duplicating attributes. KeepIndex records the originating row index
// under "source_index".
func (e *Engine) Explode(req ExplodeRequest) (model.Envelope, error) {
	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, err
	}

	out := model.FeatureCollection{EPSG: fc.EPSG}
	for i, row := range fc.Rows {
		parts := row.Geom.Parts()
		if parts == nil {
			parts = []geom.Geometry{row.Geom}
		}
		for _, part := range parts {
			attrs := maps.Clone(row.Attrs)
			if attrs == nil {
				attrs = map[string]any{}
			}
			if req.KeepIndex {
				attrs["source_index"] = i
			}
			out.Rows = append(out.Rows, model.Row{Attrs: attrs, Geom: part})
		}
	}
	e.log.Debug("exploded", slog.Int("rows_in", len(fc.Rows)), slog.Int("rows_out", len(out.Rows)))
	return geocodec.Dump(out, req.OutputFormat)
}
