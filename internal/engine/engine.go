// Package engine implements the geometry operations exposed by the tool
// surface. Every operation is a pure function of its request: decode,
// reconcile CRS, transform, encode. Validation failures surface before any
// geometry computation starts.
package engine

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/crs"
	"github.com/openterra/geodata-tools/internal/geocodec"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

type Engine struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log.With(slog.String("component", "engine"))}
}

type ReprojectRequest struct {
	Data         string
	InputFormat  string
	TargetCRS    string
	SourceCRS    string
	OutputFormat string
}

func (e *Engine) Reproject(req ReprojectRequest) (model.Envelope, error) {
	if req.TargetCRS == "" {
		return model.Envelope{}, geoerr.MissingParameter("target_crs")
	}
	target, err := crs.Parse(req.TargetCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	fc, err = crs.Reproject(fc, target)
	if err != nil {
		return model.Envelope{}, err
	}
	e.log.Debug("reprojected", slog.Int("rows", len(fc.Rows)), slog.Int("epsg", target))
	return geocodec.Dump(fc, req.OutputFormat)
}

type BufferRequest struct {
	Data         string
	InputFormat  string
	Distance     float64
	SourceCRS    string
	BufferCRS    string
	OutputCRS    string
	OutputFormat string
	CapStyle     string
	JoinStyle    string
	MitreLimit   float64
	SingleSided  bool
	Resolution   int
}

func (e *Engine) Buffer(req BufferRequest) (model.Envelope, error) {
	opts, err := bufferStyle(req)
	if err != nil {
		return model.Envelope{}, err
	}
	bufferCRS, err := crs.Parse(req.BufferCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	outputCRS, err := crs.Parse(req.OutputCRS)
	if err != nil {
		return model.Envelope{}, err
	}

	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, err
	}

	// working CRS: explicit buffer_crs, else the collection's own; never
	// guessed from coordinate magnitudes
	working := bufferCRS
	if working == crs.Unknown {
		working = fc.EPSG
	}
	if working == crs.Unknown {
		return model.Envelope{}, geoerr.IncompatibleCRS(
			"no CRS resolvable for buffering; supply buffer_crs or source_crs")
	}
	fc, err = crs.Reproject(fc, working)
	if err != nil {
		return model.Envelope{}, err
	}

	out := model.FeatureCollection{EPSG: fc.EPSG, Rows: make([]model.Row, 0, len(fc.Rows))}
	for _, row := range fc.Rows {
		g, err := geom.Buffer(row.Geom, req.Distance, opts)
		if err != nil {
			return model.Envelope{}, geoerr.Processing(err)
		}
		out.Rows = append(out.Rows, model.Row{Attrs: row.Attrs, Geom: g})
	}

	if outputCRS != crs.Unknown {
		out, err = crs.Reproject(out, outputCRS)
		if err != nil {
			return model.Envelope{}, err
		}
	}
	e.log.Debug("buffered",
		slog.Int("rows", len(out.Rows)),
		slog.Float64("distance", req.Distance),
		slog.Int("working_epsg", working))
	return geocodec.Dump(out, req.OutputFormat)
}

func bufferStyle(req BufferRequest) (geom.BufferOptions, error) {
	o := geom.BufferOptions{
		MitreLimit:  req.MitreLimit,
		Resolution:  req.Resolution,
		SingleSided: req.SingleSided,
	}
	switch req.CapStyle {
	case "", "round":
		o.CapStyle = geom.CapRound
	case "flat":
		o.CapStyle = geom.CapFlat
	case "square":
		o.CapStyle = geom.CapSquare
	default:
		return o, geoerr.InvalidStyleParameter("cap_style", req.CapStyle)
	}
	switch req.JoinStyle {
	case "", "round":
		o.JoinStyle = geom.JoinRound
	case "mitre", "miter":
		o.JoinStyle = geom.JoinMitre
	case "bevel":
		o.JoinStyle = geom.JoinBevel
	default:
		return o, geoerr.InvalidStyleParameter("join_style", req.JoinStyle)
	}
	return o, nil
}

type IntersectRequest struct {
	DataA        string
	InputFormatA string
	DataB        string
	InputFormatB string
	SourceCRSA   string
	SourceCRSB   string
	TargetCRS    string
	OutputFormat string
}

/// Intersect overlays two collections: every overlapping row pair yields one
// output row with the overlap geometry and attributes from both sides (b's
// colliding keys get a "_2" suffix).
func (e *Engine) Intersect(req IntersectRequest) (model.Envelope, error) {
	target, err := crs.Parse(req.TargetCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	a, err := geocodec.Load(req.DataA, req.InputFormatA, req.SourceCRSA)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("input a: %w", err)
	}
	b, err := geocodec.Load(req.DataB, req.InputFormatB, req.SourceCRSB)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("input b: %w", err)
	}
	a, b, err = crs.Reconcile(a, b, target)
	if err != nil {
		return model.Envelope{}, err
	}

	out := model.FeatureCollection{EPSG: a.EPSG}
	for _, ra := range a.Rows {
		for _, rb := range b.Rows {
			g, ok, err := geom.Intersect(ra.Geom, rb.Geom)
			if err != nil {
				return model.Envelope{}, geoerr.Processing(err)
			}
			if !ok {
				continue
			}
			out.Rows = append(out.Rows, model.Row{Attrs: mergeAttrs(ra.Attrs, rb.Attrs), Geom: g})
		}
	}
	e.log.Debug("intersected",
		slog.Int("rows_a", len(a.Rows)),
		slog.Int("rows_b", len(b.Rows)),
		slog.Int("overlaps", len(out.Rows)))
	return geocodec.Dump(out, req.OutputFormat)
}

func mergeAttrs(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	maps.Copy(out, a)
	for k, v := range b {
		if _, taken := out[k]; taken {
			k += "_2"
		}
		out[k] = v
	}
	return out
}

type ClipRequest struct {
	Data          string
	InputFormat   string
	ClipData      string
	ClipFormat    string
	SourceCRS     string
	ClipSourceCRS string
	TargetCRS     string
	OutputFormat  string
}

// Clip keeps the portion of each data row inside the mask. Attributes come
// from the data side only.
func (e *Engine) Clip(req ClipRequest) (model.Envelope, error) {
	target, err := crs.Parse(req.TargetCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	data, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("input data: %w", err)
	}
	mask, err := geocodec.Load(req.ClipData, req.ClipFormat, req.ClipSourceCRS)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("clip data: %w", err)
	}
	data, mask, err = crs.Reconcile(data, mask, target)
	if err != nil {
		return model.Envelope{}, err
	}

	maskGeoms := make([]geom.Geometry, 0, len(mask.Rows))
	for _, r := range mask.Rows {
		maskGeoms = append(maskGeoms, r.Geom)
	}
	merged, err := geom.UnionAll(maskGeoms...)
	if err != nil {
		return model.Envelope{}, geoerr.Processing(err)
	}
	if merged.IsEmpty() {
		return model.Envelope{}, geoerr.EmptyResult("the clip mask has no areal geometry")
	}

	out := model.FeatureCollection{EPSG: data.EPSG}
	for _, row := range data.Rows {
		g, ok, err := geom.Intersect(row.Geom, merged)
		if err != nil {
			return model.Envelope{}, geoerr.Processing(err)
		}
		if !ok {
			continue
		}
		out.Rows = append(out.Rows, model.Row{Attrs: row.Attrs, Geom: g})
	}
	e.log.Debug("clipped", slog.Int("rows_in", len(data.Rows)), slog.Int("rows_out", len(out.Rows)))
	return geocodec.Dump(out, req.OutputFormat)
}

type ConvertRequest struct {
	Data         string
	InputFormat  string
	OutputFormat string
	SourceCRS    string
}

// Convert is a pure format translation; the CRS is carried through.
func (e *Engine) Convert(req ConvertRequest) (model.Envelope, error) {
	if req.OutputFormat == "" {
		return model.Envelope{}, geoerr.MissingParameter("output_format")
	}
	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.Envelope{}, err
	}
	return geocodec.Dump(fc, req.OutputFormat)
}

type BBoxRequest struct {
	Data        string
	InputFormat string
	SourceCRS   string
	TargetCRS   string
}

func (e *Engine) BBox(req BBoxRequest) (model.BBoxResult, error) {
	target, err := crs.Parse(req.TargetCRS)
	if err != nil {
		return model.BBoxResult{}, err
	}
	fc, err := geocodec.Load(req.Data, req.InputFormat, req.SourceCRS)
	if err != nil {
		return model.BBoxResult{}, err
	}
	if target != crs.Unknown {
		fc, err = crs.Reproject(fc, target)
		if err != nil {
			return model.BBoxResult{}, err
		}
	}

	var b model.Bounds
	seen := false
	for _, row := range fc.Rows {
		min, max, ok := row.Geom.Bound()
		if !ok {
			continue
		}
		if !seen {
			b = model.Bounds{MinX: min.X(), MinY: min.Y(), MaxX: max.X(), MaxY: max.Y()}
			seen = true
			continue
		}
		if min.X() < b.MinX {
			b.MinX = min.X()
		}
		if min.Y() < b.MinY {
			b.MinY = min.Y()
		}
		if max.X() > b.MaxX {
			b.MaxX = max.X()
		}
		if max.Y() > b.MaxY {
			b.MaxY = max.Y()
		}
	}
	if !seen {
		return model.BBoxResult{}, geoerr.EmptyResult("no geometry to bound")
	}
	return model.BBoxResult{Format: "bbox", CRS: crs.String(fc.EPSG), Bounds: b}, nil
}
