// Package crs parses CRS identifiers and reprojects feature collections
// between EPSG coordinate reference systems.
package crs

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/wroge/wgs84"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

// Unknown marks a collection without a resolvable CRS.
const Unknown = 0

// transformers are pure and reusable, so pairs are memoized process-wide.
var transformers *lru.Cache[[2]int, wgs84.Func]

func init() {
	transformers, _ = lru.New[[2]int, wgs84.Func](128)
}

// Parse accepts "EPSG:4326", "epsg:4326" or a bare code string.
func Parse(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unknown, nil
	}
	raw := s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		if !strings.EqualFold(s[:i], "epsg") {
			return 0, geoerr.IncompatibleCRS(fmt.Sprintf("unsupported CRS authority in %q (want EPSG:<code>)", raw))
		}
		s = s[i+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil || code <= 0 {
		return 0, geoerr.IncompatibleCRS(fmt.Sprintf("invalid CRS %q (want EPSG:<code>)", raw))
	}
	return code, nil
}

// String renders the canonical form, or nil for an unknown CRS.
func String(code int) *string {
	if code == Unknown {
		return nil
	}
	s := fmt.Sprintf("EPSG:%d", code)
	return &s
}

// Transformer returns a coordinate mapper from one EPSG code to another.
func Transformer(from, to int) (func(geom.Position) geom.Position, error) {
	if from == to {
		return func(p geom.Position) geom.Position { return p }, nil
	}
	key := [2]int{from, to}
	f, ok := transformers.Get(key)
	if !ok {
		repo := wgs84.EPSG()
		src := repo.Code(from)
		dst := repo.Code(to)
		if src == nil {
			return nil, geoerr.IncompatibleCRS(fmt.Sprintf("EPSG:%d is not supported", from))
		}
		if dst == nil {
			return nil, geoerr.IncompatibleCRS(fmt.Sprintf("EPSG:%d is not supported", to))
		}
		f = wgs84.Transform(src, dst)
		transformers.Add(key, f)
	}
	return func(p geom.Position) geom.Position {
		x, y, _ := f(p.X(), p.Y(), 0)
		return geom.Position{x, y}
	}, nil
}

// Reproject transforms every geometry of fc into the target CRS. The source
// CRS must be known.
func Reproject(fc model.FeatureCollection, target int) (model.FeatureCollection, error) {
	if target == Unknown {
		return fc, geoerr.MissingParameter("target_crs")
	}
	if fc.EPSG == target {
		return fc, nil
	}
	if fc.EPSG == Unknown {
		return fc, geoerr.IncompatibleCRS("the collection's CRS is unknown; supply source_crs")
	}
	tr, err := Transformer(fc.EPSG, target)
	if err != nil {
		return fc, err
	}
	out := model.FeatureCollection{EPSG: target, Rows: make([]model.Row, len(fc.Rows))}
	for i, row := range fc.Rows {
		out.Rows[i] = model.Row{Attrs: row.Attrs, Geom: row.Geom.MapCoords(tr)}
	}
	return out, nil
}
