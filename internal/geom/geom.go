// Package geom holds the in-memory geometry model used by the pipeline.
//
// Geometries are a tagged union over the seven GeoJSON types with planar
// (x, y) coordinates. Units are whatever the owning collection's CRS says
// they are; nothing in this package assumes degrees or meters.
package geom

import (
	"encoding/json"
	"fmt"
	"math"
)

type Position [2]float64

func (p Position) X() float64 { return p[0] }
func (p Position) Y() float64 { return p[1] }

const (
	TypePoint           = "Point"
	TypeMultiPoint      = "MultiPoint"
	TypeLineString      = "LineString"
	TypeMultiLineString = "MultiLineString"
	TypePolygon         = "Polygon"
	TypeMultiPolygon    = "MultiPolygon"
	TypeCollection      = "GeometryCollection"
)

// Geometry is a tagged union; only the field matching Type is meaningful.
// Polygon rings are stored closed (first position repeated at the end).
type Geometry struct {
	Type         string
	Point        Position
	MultiPoint   []Position
	Line         []Position
	MultiLine    [][]Position
	Polygon      [][]Position
	MultiPolygon [][][]Position
	Geometries   []Geometry
}

func (g Geometry) IsEmpty() bool {
	switch g.Type {
	case TypePoint:
		return false
	case TypeMultiPoint:
		return len(g.MultiPoint) == 0
	case TypeLineString:
		return len(g.Line) == 0
	case TypeMultiLineString:
		return len(g.MultiLine) == 0
	case TypePolygon:
		return len(g.Polygon) == 0 || len(g.Polygon[0]) == 0
	case TypeMultiPolygon:
		return len(g.MultiPolygon) == 0
	case TypeCollection:
		for _, m := range g.Geometries {
			if !m.IsEmpty() {
				return false
			}
		}
		return true
	}
	return true
}

// Dimension returns 0 for puntal, 1 for lineal and 2 for areal geometries.
// Collections report the highest dimension of their members.
func (g Geometry) Dimension() int {
	switch g.Type {
	case TypePoint, TypeMultiPoint:
		return 0
	case TypeLineString, TypeMultiLineString:
		return 1
	case TypePolygon, TypeMultiPolygon:
		return 2
	case TypeCollection:
		d := 0
		for _, m := range g.Geometries {
			if md := m.Dimension(); md > d {
				d = md
			}
		}
		return d
	}
	return 0
}

// Parts returns the constituent simple geometries of a multi-part geometry,
// or nil for simple types.
func (g Geometry) Parts() []Geometry {
	switch g.Type {
	case TypeMultiPoint:
		out := make([]Geometry, len(g.MultiPoint))
		for i, p := range g.MultiPoint {
			out[i] = Geometry{Type: TypePoint, Point: p}
		}
		return out
	case TypeMultiLineString:
		out := make([]Geometry, len(g.MultiLine))
		for i, l := range g.MultiLine {
			out[i] = Geometry{Type: TypeLineString, Line: l}
		}
		return out
	case TypeMultiPolygon:
		out := make([]Geometry, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			out[i] = Geometry{Type: TypePolygon, Polygon: p}
		}
		return out
	case TypeCollection:
		var out []Geometry
		for _, m := range g.Geometries {
			if sub := m.Parts(); sub != nil {
				out = append(out, sub...)
			} else {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// MapCoords applies f to every coordinate and returns the transformed copy.
func (g Geometry) MapCoords(f func(Position) Position) Geometry {
	mapRing := func(r []Position) []Position {
		out := make([]Position, len(r))
		for i, p := range r {
			out[i] = f(p)
		}
		return out
	}
	mapRings := func(rs [][]Position) [][]Position {
		out := make([][]Position, len(rs))
		for i, r := range rs {
			out[i] = mapRing(r)
		}
		return out
	}
	out := Geometry{Type: g.Type}
	switch g.Type {
	case TypePoint:
		out.Point = f(g.Point)
	case TypeMultiPoint:
		out.MultiPoint = mapRing(g.MultiPoint)
	case TypeLineString:
		out.Line = mapRing(g.Line)
	case TypeMultiLineString:
		out.MultiLine = mapRings(g.MultiLine)
	case TypePolygon:
		out.Polygon = mapRings(g.Polygon)
	case TypeMultiPolygon:
		out.MultiPolygon = make([][][]Position, len(g.MultiPolygon))
		for i, p := range g.MultiPolygon {
			out.MultiPolygon[i] = mapRings(p)
		}
	case TypeCollection:
		out.Geometries = make([]Geometry, len(g.Geometries))
		for i, m := range g.Geometries {
			out.Geometries[i] = m.MapCoords(f)
		}
	}
	return out
}

// Bound returns the axis-aligned bounding box, or ok=false for an empty
// geometry.
func (g Geometry) Bound() (min, max Position, ok bool) {
	min = Position{math.Inf(1), math.Inf(1)}
	max = Position{math.Inf(-1), math.Inf(-1)}
	g.MapCoords(func(p Position) Position {
		ok = true
		min[0] = math.Min(min[0], p[0])
		min[1] = math.Min(min[1], p[1])
		max[0] = math.Max(max[0], p[0])
		max[1] = math.Max(max[1], p[1])
		return p
	})
	return min, max, ok
}

// Area returns the total unsigned polygonal area. Non-areal geometries
// contribute zero.
func (g Geometry) Area() float64 {
	switch g.Type {
	case TypePolygon:
		return polygonArea(g.Polygon)
	case TypeMultiPolygon:
		var a float64
		for _, p := range g.MultiPolygon {
			a += polygonArea(p)
		}
		return a
	case TypeCollection:
		var a float64
		for _, m := range g.Geometries {
			a += m.Area()
		}
		return a
	}
	return 0
}

func polygonArea(rings [][]Position) float64 {
	if len(rings) == 0 {
		return 0
	}
	a := math.Abs(ringArea(rings[0]))
	for _, hole := range rings[1:] {
		a -= math.Abs(ringArea(hole))
	}
	if a < 0 {
		return 0
	}
	return a
}

// ringArea returns the signed shoelace area; positive for counter-clockwise
// rings.
func ringArea(r []Position) float64 {
	var s float64
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

// CloseRing appends the first position if the ring is not already closed.
func CloseRing(r []Position) []Position {
	if len(r) >= 2 && r[0] != r[len(r)-1] {
		return append(r, r[0])
	}
	return r
}

// jsonGeometry is the GeoJSON wire shape.
type jsonGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
	Geometries  []Geometry      `json:"geometries,omitempty"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	j := jsonGeometry{Type: g.Type}
	var coords any
	switch g.Type {
	case TypePoint:
		coords = g.Point
	case TypeMultiPoint:
		coords = nonNil(g.MultiPoint)
	case TypeLineString:
		coords = nonNil(g.Line)
	case TypeMultiLineString:
		coords = nonNil(g.MultiLine)
	case TypePolygon:
		coords = nonNil(g.Polygon)
	case TypeMultiPolygon:
		coords = nonNil(g.MultiPolygon)
	case TypeCollection:
		j.Geometries = g.Geometries
		if j.Geometries == nil {
			j.Geometries = []Geometry{}
		}
		return json.Marshal(j)
	default:
		return nil, fmt.Errorf("marshal geometry: unknown type %q", g.Type)
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, err
	}
	j.Coordinates = raw
	return json.Marshal(j)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (g *Geometry) UnmarshalJSON(b []byte) error {
	var j jsonGeometry
	if err := json.Unmarshal(b, &j); err != nil {
		return fmt.Errorf("parse geometry: %w", err)
	}
	out := Geometry{Type: j.Type}
	var err error
	switch j.Type {
	case TypePoint:
		err = json.Unmarshal(j.Coordinates, &out.Point)
	case TypeMultiPoint:
		err = json.Unmarshal(j.Coordinates, &out.MultiPoint)
	case TypeLineString:
		err = json.Unmarshal(j.Coordinates, &out.Line)
	case TypeMultiLineString:
		err = json.Unmarshal(j.Coordinates, &out.MultiLine)
	case TypePolygon:
		err = json.Unmarshal(j.Coordinates, &out.Polygon)
	case TypeMultiPolygon:
		err = json.Unmarshal(j.Coordinates, &out.MultiPolygon)
	case TypeCollection:
		out.Geometries = j.Geometries
	default:
		return fmt.Errorf("parse geometry: unknown type %q", j.Type)
	}
	if err != nil {
		return fmt.Errorf("parse %s coordinates: %w", j.Type, err)
	}
	*g = out
	return nil
}
