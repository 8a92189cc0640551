package geom

import (
	"fmt"
	"math"
	"sort"

	"github.com/engelsjk/polygol"
)

// toPolygol collects the areal content of g into polygol's multipolygon
// representation. ok is false when g has no areal content.
func toPolygol(g Geometry) (polygol.Geom, bool) {
	var out polygol.Geom
	add := func(rings [][]Position) {
		poly := make([][][]float64, 0, len(rings))
		for _, r := range rings {
			ring := make([][]float64, 0, len(r))
			for _, p := range CloseRing(r) {
				ring = append(ring, []float64{p[0], p[1]})
			}
			if len(ring) >= 4 {
				poly = append(poly, ring)
			}
		}
		if len(poly) > 0 {
			out = append(out, poly)
		}
	}
	switch g.Type {
	case TypePolygon:
		add(g.Polygon)
	case TypeMultiPolygon:
		for _, p := range g.MultiPolygon {
			add(p)
		}
	case TypeCollection:
		for _, m := range g.Geometries {
			if pg, ok := toPolygol(m); ok {
				out = append(out, pg...)
			}
		}
	}
	return out, len(out) > 0
}

// fromPolygol converts back, collapsing a single-polygon result to Polygon.
func fromPolygol(pg polygol.Geom) Geometry {
	var polys [][][]Position
	for _, poly := range pg {
		var rings [][]Position
		for _, ring := range poly {
			r := make([]Position, 0, len(ring))
			for _, c := range ring {
				if len(c) < 2 {
					continue
				}
				r = append(r, Position{c[0], c[1]})
			}
			r = CloseRing(r)
			if len(r) >= 4 {
				rings = append(rings, r)
			}
		}
		if len(rings) > 0 {
			polys = append(polys, rings)
		}
	}
	switch len(polys) {
	case 0:
		return Geometry{}
	case 1:
		return Geometry{Type: TypePolygon, Polygon: polys[0]}
	default:
		return Geometry{Type: TypeMultiPolygon, MultiPolygon: polys}
	}
}

// UnionAll merges the areal content of gs into one (multi)polygon.
func UnionAll(gs ...Geometry) (Geometry, error) {
	var parts []polygol.Geom
	for _, g := range gs {
		if pg, ok := toPolygol(g); ok {
			parts = append(parts, pg)
		}
	}
	if len(parts) == 0 {
		return Geometry{}, nil
	}
	if len(parts) == 1 {
		return fromPolygol(parts[0]), nil
	}
	u, err := polygol.Union(parts[0], parts[1:]...)
	if err != nil {
		return Geometry{}, fmt.Errorf("union: %w", err)
	}
	return fromPolygol(u), nil
}

// Intersect computes the geometric intersection of a and b. ok is false when
// the two geometries do not overlap or when the pair is not supported by the
// kernel (only pairs involving at least one areal geometry intersect to a
// non-degenerate result).
func Intersect(a, b Geometry) (Geometry, bool, error) {
	da, db := a.Dimension(), b.Dimension()
	switch {
	case da == 2 && db == 2:
		pa, okA := toPolygol(a)
		pb, okB := toPolygol(b)
		if !okA || !okB {
			return Geometry{}, false, nil
		}
		res, err := polygol.Intersection(pa, pb)
		if err != nil {
			return Geometry{}, false, fmt.Errorf("intersection: %w", err)
		}
		g := fromPolygol(res)
		return g, !g.IsEmpty(), nil
	case db == 2:
		g := intersectWithAreal(a, b)
		return g, !g.IsEmpty(), nil
	case da == 2:
		g := intersectWithAreal(b, a)
		return g, !g.IsEmpty(), nil
	default:
		// point/line vs point/line overlaps are degenerate; treated as none
		return Geometry{}, false, nil
	}
}

// Difference subtracts the areal content of b from a.
func Difference(a, b Geometry) (Geometry, error) {
	pa, okA := toPolygol(a)
	if !okA {
		return Geometry{}, nil
	}
	pb, okB := toPolygol(b)
	if !okB {
		return fromPolygol(pa), nil
	}
	res, err := polygol.Difference(pa, pb)
	if err != nil {
		return Geometry{}, fmt.Errorf("difference: %w", err)
	}
	return fromPolygol(res), nil
}

// intersectWithAreal keeps the portion of a puntal/lineal geometry g that
// falls inside the areal mask.
func intersectWithAreal(g, mask Geometry) Geometry {
	switch g.Type {
	case TypePoint:
		if containsPoint(mask, g.Point) {
			return g
		}
		return Geometry{}
	case TypeMultiPoint:
		var kept []Position
		for _, p := range g.MultiPoint {
			if containsPoint(mask, p) {
				kept = append(kept, p)
			}
		}
		switch len(kept) {
		case 0:
			return Geometry{}
		case 1:
			return Geometry{Type: TypePoint, Point: kept[0]}
		default:
			return Geometry{Type: TypeMultiPoint, MultiPoint: kept}
		}
	case TypeLineString:
		return linesGeometry(clipLine(g.Line, mask))
	case TypeMultiLineString:
		var kept [][]Position
		for _, l := range g.MultiLine {
			kept = append(kept, clipLine(l, mask)...)
		}
		return linesGeometry(kept)
	case TypeCollection:
		var kept []Geometry
		for _, m := range g.Geometries {
			if r := intersectWithAreal(m, mask); !r.IsEmpty() {
				kept = append(kept, r)
			}
		}
		switch len(kept) {
		case 0:
			return Geometry{}
		case 1:
			return kept[0]
		default:
			return Geometry{Type: TypeCollection, Geometries: kept}
		}
	}
	return Geometry{}
}

func linesGeometry(lines [][]Position) Geometry {
	switch len(lines) {
	case 0:
		return Geometry{}
	case 1:
		return Geometry{Type: TypeLineString, Line: lines[0]}
	default:
		return Geometry{Type: TypeMultiLineString, MultiLine: lines}
	}
}

// containsPoint uses even-odd ray casting over every ring of the areal
// geometry, which handles holes without tracking ring roles.
func containsPoint(mask Geometry, p Position) bool {
	switch mask.Type {
	case TypePolygon:
		return pointInRings(mask.Polygon, p)
	case TypeMultiPolygon:
		for _, poly := range mask.MultiPolygon {
			if pointInRings(poly, p) {
				return true
			}
		}
	case TypeCollection:
		for _, m := range mask.Geometries {
			if m.Dimension() == 2 && containsPoint(m, p) {
				return true
			}
		}
	}
	return false
}

func pointInRings(rings [][]Position, p Position) bool {
	inside := false
	for _, r := range rings {
		for i := 0; i+1 < len(r); i++ {
			a, b := r[i], r[i+1]
			if (a[1] > p[1]) != (b[1] > p[1]) {
				x := a[0] + (p[1]-a[1])/(b[1]-a[1])*(b[0]-a[0])
				if p[0] < x {
					inside = !inside
				}
			}
		}
	}
	return inside
}

// clipLine splits a polyline at every crossing of the mask boundary and keeps
// the pieces whose midpoint lies inside.
func clipLine(line []Position, mask Geometry) [][]Position {
	var out [][]Position
	var cur []Position
	flush := func() {
		if len(cur) >= 2 {
			out = append(out, cur)
		}
		cur = nil
	}
	for i := 0; i+1 < len(line); i++ {
		p, q := line[i], line[i+1]
		ts := []float64{0, 1}
		ts = append(ts, boundaryCrossings(p, q, mask)...)
		sort.Float64s(ts)
		for j := 0; j+1 < len(ts); j++ {
			t0, t1 := ts[j], ts[j+1]
			if t1-t0 < 1e-12 {
				continue
			}
			mid := lerp(p, q, (t0+t1)/2)
			a, b := lerp(p, q, t0), lerp(p, q, t1)
			if containsPoint(mask, mid) {
				if len(cur) > 0 && samePos(cur[len(cur)-1], a) {
					cur = append(cur, b)
				} else {
					flush()
					cur = []Position{a, b}
				}
			} else {
				flush()
			}
		}
	}
	flush()
	return out
}

func boundaryCrossings(p, q Position, mask Geometry) []float64 {
	var ts []float64
	eachRing(mask, func(r []Position) {
		for i := 0; i+1 < len(r); i++ {
			if t, ok := segIntersectT(p, q, r[i], r[i+1]); ok {
				ts = append(ts, t)
			}
		}
	})
	return ts
}

func eachRing(g Geometry, f func([]Position)) {
	switch g.Type {
	case TypePolygon:
		for _, r := range g.Polygon {
			f(r)
		}
	case TypeMultiPolygon:
		for _, poly := range g.MultiPolygon {
			for _, r := range poly {
				f(r)
			}
		}
	case TypeCollection:
		for _, m := range g.Geometries {
			eachRing(m, f)
		}
	}
}

// segIntersectT returns the parameter along p->q where it properly crosses
// a->b.
func segIntersectT(p, q, a, b Position) (float64, bool) {
	r := Position{q[0] - p[0], q[1] - p[1]}
	s := Position{b[0] - a[0], b[1] - a[1]}
	den := r[0]*s[1] - r[1]*s[0]
	if math.Abs(den) < 1e-15 {
		return 0, false
	}
	t := ((a[0]-p[0])*s[1] - (a[1]-p[1])*s[0]) / den
	u := ((a[0]-p[0])*r[1] - (a[1]-p[1])*r[0]) / den
	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

func lerp(p, q Position, t float64) Position {
	return Position{p[0] + (q[0]-p[0])*t, p[1] + (q[1]-p[1])*t}
}

func samePos(a, b Position) bool {
	return math.Abs(a[0]-b[0]) < 1e-9 && math.Abs(a[1]-b[1]) < 1e-9
}
