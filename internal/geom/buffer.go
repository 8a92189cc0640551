package geom

import (
	"fmt"
	"math"

	"github.com/engelsjk/polygol"
)

// Kernel style codes for buffer caps and joins.
const (
	CapRound  = 1
	CapFlat   = 2
	CapSquare = 3

	JoinRound = 1
	JoinMitre = 2
	JoinBevel = 3
)

type BufferOptions struct {
	CapStyle    int     // CapRound, CapFlat or CapSquare
	JoinStyle   int     // JoinRound, JoinMitre or JoinBevel
	MitreLimit  float64 // max mitre length as a multiple of the distance
	Resolution  int     // arc segments per quarter circle
	SingleSided bool
}

func (o BufferOptions) normalized() BufferOptions {
	if o.CapStyle == 0 {
		o.CapStyle = CapRound
	}
	if o.JoinStyle == 0 {
		o.JoinStyle = JoinRound
	}
	if o.MitreLimit <= 0 {
		o.MitreLimit = 5
	}
	if o.Resolution <= 0 {
		o.Resolution = 16
	}
	return o
}

// Buffer dilates (dist > 0) or erodes (dist < 0) a geometry. The result is
// areal; eroding puntal or lineal geometry yields the empty geometry. The
// dilation is built as a union of per-segment quads, vertex joins and end
// caps, so joins and caps follow the requested style codes.
func Buffer(g Geometry, dist float64, o BufferOptions) (Geometry, error) {
	o = o.normalized()
	if dist == 0 {
		return g, nil
	}
	if dist < 0 {
		return erode(g, -dist, o)
	}
	pieces := dilationPieces(g, dist, o)
	return unionPieces(pieces)
}

func erode(g Geometry, dist float64, o BufferOptions) (Geometry, error) {
	switch g.Type {
	case TypePolygon, TypeMultiPolygon:
		var edge []Geometry
		for _, rings := range polygonsOf(g) {
			for _, r := range rings {
				edge = append(edge, Geometry{Type: TypeLineString, Line: CloseRing(r)})
			}
		}
		var pieces [][][]Position
		for _, e := range edge {
			pieces = append(pieces, dilationPieces(e, dist, o)...)
		}
		band, err := unionPieces(pieces)
		if err != nil {
			return Geometry{}, err
		}
		return Difference(g, band)
	case TypeCollection:
		var kept []Geometry
		for _, m := range g.Geometries {
			r, err := erode(m, dist, o)
			if err != nil {
				return Geometry{}, err
			}
			if !r.IsEmpty() {
				kept = append(kept, r)
			}
		}
		return UnionAll(kept...)
	default:
		// negative buffer of points and lines is empty, as the kernel defines
		return Geometry{}, nil
	}
}

func polygonsOf(g Geometry) [][][]Position {
	switch g.Type {
	case TypePolygon:
		return [][][]Position{g.Polygon}
	case TypeMultiPolygon:
		return g.MultiPolygon
	}
	return nil
}

// dilationPieces emits the convex pieces whose union is the dilation of g.
func dilationPieces(g Geometry, d float64, o BufferOptions) [][][]Position {
	var pieces [][][]Position
	switch g.Type {
	case TypePoint:
		if r := pointCap(g.Point, d, o); r != nil {
			pieces = append(pieces, [][]Position{r})
		}
	case TypeMultiPoint:
		for _, p := range g.MultiPoint {
			if r := pointCap(p, d, o); r != nil {
				pieces = append(pieces, [][]Position{r})
			}
		}
	case TypeLineString:
		pieces = append(pieces, linePieces(g.Line, d, o, false)...)
	case TypeMultiLineString:
		for _, l := range g.MultiLine {
			pieces = append(pieces, linePieces(l, d, o, false)...)
		}
	case TypePolygon, TypeMultiPolygon:
		for _, rings := range polygonsOf(g) {
			pieces = append(pieces, rings) // the polygon itself
			for _, r := range rings {
				pieces = append(pieces, linePieces(CloseRing(r), d, o, true)...)
			}
		}
	case TypeCollection:
		for _, m := range g.Geometries {
			pieces = append(pieces, dilationPieces(m, d, o)...)
		}
	}
	return pieces
}

func pointCap(c Position, d float64, o BufferOptions) []Position {
	switch o.CapStyle {
	case CapFlat:
		return nil
	case CapSquare:
		return []Position{
			{c[0] - d, c[1] - d}, {c[0] + d, c[1] - d},
			{c[0] + d, c[1] + d}, {c[0] - d, c[1] + d}, {c[0] - d, c[1] - d},
		}
	default:
		return circleRing(c, d, 4*o.Resolution)
	}
}

func linePieces(line []Position, d float64, o BufferOptions, closed bool) [][][]Position {
	pts := dedupePositions(line)
	if len(pts) < 2 {
		return nil
	}
	var pieces [][][]Position

	for i := 0; i+1 < len(pts); i++ {
		q := segmentQuad(pts[i], pts[i+1], d, o.SingleSided && !closed)
		if q != nil {
			pieces = append(pieces, [][]Position{q})
		}
	}

	// interior vertex joins; for a closed ring the first/last vertex joins too
	first, last := 1, len(pts)-2
	if closed {
		first, last = 0, len(pts)-2
	}
	for i := first; i <= last; i++ {
		var in, out Position
		if i == 0 {
			in = pts[len(pts)-2] // closed ring wraps
		} else {
			in = pts[i-1]
		}
		out = pts[i+1]
		for _, j := range joinPieces(pts[i], in, out, d, o) {
			pieces = append(pieces, [][]Position{j})
		}
	}

	if !closed && !o.SingleSided {
		if c := endCap(pts[1], pts[0], d, o); c != nil {
			pieces = append(pieces, [][]Position{c})
		}
		if c := endCap(pts[len(pts)-2], pts[len(pts)-1], d, o); c != nil {
			pieces = append(pieces, [][]Position{c})
		}
	}
	return pieces
}

// segmentQuad is the rectangle swept by the segment; single-sided keeps only
// the left half-band.
func segmentQuad(p, q Position, d float64, leftOnly bool) []Position {
	n, ok := leftNormal(p, q)
	if !ok {
		return nil
	}
	off := Position{n[0] * d, n[1] * d}
	if leftOnly {
		return []Position{p, q, {q[0] + off[0], q[1] + off[1]}, {p[0] + off[0], p[1] + off[1]}, p}
	}
	return []Position{
		{p[0] + off[0], p[1] + off[1]},
		{q[0] + off[0], q[1] + off[1]},
		{q[0] - off[0], q[1] - off[1]},
		{p[0] - off[0], p[1] - off[1]},
		{p[0] + off[0], p[1] + off[1]},
	}
}

// endCap extends the line end at `end` (coming from `prev`) per cap style.
func endCap(prev, end Position, d float64, o BufferOptions) []Position {
	switch o.CapStyle {
	case CapFlat:
		return nil
	case CapRound:
		return circleRing(end, d, 4*o.Resolution)
	default: // square: push the band d past the end
		dir, ok := unit(prev, end)
		if !ok {
			return nil
		}
		n := Position{-dir[1], dir[0]}
		a := Position{end[0] + n[0]*d, end[1] + n[1]*d}
		b := Position{end[0] - n[0]*d, end[1] - n[1]*d}
		return []Position{
			a,
			{a[0] + dir[0]*d, a[1] + dir[1]*d},
			{b[0] + dir[0]*d, b[1] + dir[1]*d},
			b,
			a,
		}
	}
}

// joinPieces fills the notch between adjacent segment quads at vertex v.
func joinPieces(v, in, out Position, d float64, o BufferOptions) [][]Position {
	if o.JoinStyle == JoinRound {
		return [][]Position{circleRing(v, d, 4*o.Resolution)}
	}
	dIn, ok1 := unit(in, v)
	dOut, ok2 := unit(v, out)
	if !ok1 || !ok2 {
		return nil
	}
	var joins [][]Position
	for _, side := range []float64{1, -1} {
		n1 := Position{-dIn[1] * side, dIn[0] * side}
		n2 := Position{-dOut[1] * side, dOut[0] * side}
		a := Position{v[0] + n1[0]*d, v[1] + n1[1]*d}
		b := Position{v[0] + n2[0]*d, v[1] + n2[1]*d}
		if o.JoinStyle == JoinMitre {
			if m, ok := mitrePoint(v, n1, n2, d, o.MitreLimit); ok {
				joins = append(joins, []Position{v, a, m, b, v})
				continue
			}
		}
		// bevel, or mitre past the limit
		joins = append(joins, []Position{v, a, b, v})
	}
	return joins
}

// mitrePoint is v offset along the normal bisector to length d/cos(phi);
// ok=false when that exceeds limit*d.
func mitrePoint(v, n1, n2 Position, d, limit float64) (Position, bool) {
	sx, sy := n1[0]+n2[0], n1[1]+n2[1]
	den := 1 + n1[0]*n2[0] + n1[1]*n2[1]
	if den < 1e-9 {
		return Position{}, false
	}
	mx, my := sx*d/den, sy*d/den
	if math.Hypot(mx, my) > limit*d {
		return Position{}, false
	}
	return Position{v[0] + mx, v[1] + my}, true
}

func circleRing(c Position, r float64, segs int) []Position {
	if segs < 4 {
		segs = 4
	}
	ring := make([]Position, 0, segs+1)
	for i := 0; i < segs; i++ {
		a := 2 * math.Pi * float64(i) / float64(segs)
		ring = append(ring, Position{c[0] + r*math.Cos(a), c[1] + r*math.Sin(a)})
	}
	return append(ring, ring[0])
}

func unit(from, to Position) (Position, bool) {
	dx, dy := to[0]-from[0], to[1]-from[1]
	l := math.Hypot(dx, dy)
	if l < 1e-12 {
		return Position{}, false
	}
	return Position{dx / l, dy / l}, true
}

func leftNormal(p, q Position) (Position, bool) {
	d, ok := unit(p, q)
	if !ok {
		return Position{}, false
	}
	return Position{-d[1], d[0]}, true
}

func dedupePositions(pts []Position) []Position {
	out := make([]Position, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && samePos(out[len(out)-1], p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func unionPieces(pieces [][][]Position) (Geometry, error) {
	if len(pieces) == 0 {
		return Geometry{}, nil
	}
	geoms := make([]polygol.Geom, 0, len(pieces))
	for _, rings := range pieces {
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
			geoms = append(geoms, polygol.Geom{poly})
		}
	}
	if len(geoms) == 0 {
		return Geometry{}, nil
	}
	u, err := polygol.Union(geoms[0], geoms[1:]...)
	if err != nil {
		return Geometry{}, fmt.Errorf("buffer union: %w", err)
	}
	return fromPolygol(u), nil
}
