package geocodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/openterra/geodata-tools/internal/geom"
)

// Well-known-binary geometry type codes.
const (
	wkbPoint              = 1
	wkbLineString         = 2
	wkbPolygon            = 3
	wkbMultiPoint         = 4
	wkbMultiLineString    = 5
	wkbMultiPolygon       = 6
	wkbGeometryCollection = 7
)

// marshalWKB encodes 2D little-endian WKB.
func marshalWKB(g geom.Geometry) ([]byte, error) {
	var out []byte
	return appendWKB(out, g)
}

func appendWKB(out []byte, g geom.Geometry) ([]byte, error) {
	out = append(out, 1) // little endian
	var err error
	switch g.Type {
	case geom.TypePoint:
		out = appendUint32(out, wkbPoint)
		out = appendPosition(out, g.Point)
	case geom.TypeLineString:
		out = appendUint32(out, wkbLineString)
		out = appendPositions(out, g.Line)
	case geom.TypePolygon:
		out = appendUint32(out, wkbPolygon)
		out = appendUint32(out, uint32(len(g.Polygon)))
		for _, ring := range g.Polygon {
			out = appendPositions(out, geom.CloseRing(ring))
		}
	case geom.TypeMultiPoint:
		out = appendUint32(out, wkbMultiPoint)
		out = appendUint32(out, uint32(len(g.MultiPoint)))
		for _, p := range g.MultiPoint {
			if out, err = appendWKB(out, geom.Geometry{Type: geom.TypePoint, Point: p}); err != nil {
				return nil, err
			}
		}
	case geom.TypeMultiLineString:
		out = appendUint32(out, wkbMultiLineString)
		out = appendUint32(out, uint32(len(g.MultiLine)))
		for _, l := range g.MultiLine {
			if out, err = appendWKB(out, geom.Geometry{Type: geom.TypeLineString, Line: l}); err != nil {
				return nil, err
			}
		}
	case geom.TypeMultiPolygon:
		out = appendUint32(out, wkbMultiPolygon)
		out = appendUint32(out, uint32(len(g.MultiPolygon)))
		for _, p := range g.MultiPolygon {
			if out, err = appendWKB(out, geom.Geometry{Type: geom.TypePolygon, Polygon: p}); err != nil {
				return nil, err
			}
		}
	case geom.TypeCollection:
		out = appendUint32(out, wkbGeometryCollection)
		out = appendUint32(out, uint32(len(g.Geometries)))
		for _, m := range g.Geometries {
			if out, err = appendWKB(out, m); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("wkb: unsupported geometry type %q", g.Type)
	}
	return out, nil
}

func appendUint32(out []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(out, v)
}

func appendPosition(out []byte, p geom.Position) []byte {
	out = binary.LittleEndian.AppendUint64(out, math.Float64bits(p[0]))
	return binary.LittleEndian.AppendUint64(out, math.Float64bits(p[1]))
}

func appendPositions(out []byte, pts []geom.Position) []byte {
	out = appendUint32(out, uint32(len(pts)))
	for _, p := range pts {
		out = appendPosition(out, p)
	}
	return out
}

type wkbReader struct {
	b   []byte
	off int
}

func (r *wkbReader) remain() int { return len(r.b) - r.off }

func (r *wkbReader) byteOrder() (binary.ByteOrder, error) {
	if r.remain() < 1 {
		return nil, fmt.Errorf("wkb: truncated header")
	}
	b := r.b[r.off]
	r.off++
	switch b {
	case 0:
		return binary.BigEndian, nil
	case 1:
		return binary.LittleEndian, nil
	}
	return nil, fmt.Errorf("wkb: invalid byte order %d", b)
}

func (r *wkbReader) uint32(bo binary.ByteOrder) (uint32, error) {
	if r.remain() < 4 {
		return 0, fmt.Errorf("wkb: truncated")
	}
	v := bo.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *wkbReader) float64(bo binary.ByteOrder) (float64, error) {
	if r.remain() < 8 {
		return 0, fmt.Errorf("wkb: truncated")
	}
	v := math.Float64frombits(bo.Uint64(r.b[r.off:]))
	r.off += 8
	return v, nil
}

// unmarshalWKB decodes WKB, EWKB and ISO variants; Z/M ordinates are read
// and dropped.
func unmarshalWKB(b []byte) (geom.Geometry, error) {
	r := &wkbReader{b: b}
	return parseWKBGeometry(r)
}

func parseWKBGeometry(r *wkbReader) (geom.Geometry, error) {
	bo, err := r.byteOrder()
	if err != nil {
		return geom.Geometry{}, err
	}
	raw, err := r.uint32(bo)
	if err != nil {
		return geom.Geometry{}, err
	}

	extra := 0 // ordinates beyond x,y
	if raw&0x80000000 != 0 {
		extra++ // ewkb z
	}
	if raw&0x40000000 != 0 {
		extra++ // ewkb m
	}
	hasSRID := raw&0x20000000 != 0
	base := raw & 0x0FFFFFFF
	if base >= 1000 { // iso zm encoding
		switch base / 1000 {
		case 1, 2:
			extra++
		case 3:
			extra += 2
		}
		base %= 1000
	}
	if hasSRID {
		if _, err := r.uint32(bo); err != nil {
			return geom.Geometry{}, err
		}
	}

	readPos := func() (geom.Position, error) {
		x, err := r.float64(bo)
		if err != nil {
			return geom.Position{}, err
		}
		y, err := r.float64(bo)
		if err != nil {
			return geom.Position{}, err
		}
		for i := 0; i < extra; i++ {
			if _, err := r.float64(bo); err != nil {
				return geom.Position{}, err
			}
		}
		return geom.Position{x, y}, nil
	}
	readLine := func() ([]geom.Position, error) {
		n, err := r.uint32(bo)
		if err != nil {
			return nil, err
		}
		pts := make([]geom.Position, 0, n)
		for i := uint32(0); i < n; i++ {
			p, err := readPos()
			if err != nil {
				return nil, err
			}
			pts = append(pts, p)
		}
		return pts, nil
	}

	switch base {
	case wkbPoint:
		p, err := readPos()
		if err != nil {
			return geom.Geometry{}, err
		}
		return geom.Geometry{Type: geom.TypePoint, Point: p}, nil
	case wkbLineString:
		l, err := readLine()
		if err != nil {
			return geom.Geometry{}, err
		}
		return geom.Geometry{Type: geom.TypeLineString, Line: l}, nil
	case wkbPolygon:
		n, err := r.uint32(bo)
		if err != nil {
			return geom.Geometry{}, err
		}
		rings := make([][]geom.Position, 0, n)
		for i := uint32(0); i < n; i++ {
			ring, err := readLine()
			if err != nil {
				return geom.Geometry{}, err
			}
			rings = append(rings, ring)
		}
		return geom.Geometry{Type: geom.TypePolygon, Polygon: rings}, nil
	case wkbMultiPoint, wkbMultiLineString, wkbMultiPolygon, wkbGeometryCollection:
		n, err := r.uint32(bo)
		if err != nil {
			return geom.Geometry{}, err
		}
		members := make([]geom.Geometry, 0, n)
		for i := uint32(0); i < n; i++ {
			m, err := parseWKBGeometry(r)
			if err != nil {
				return geom.Geometry{}, err
			}
			members = append(members, m)
		}
		return assembleMulti(base, members)
	}
	return geom.Geometry{}, fmt.Errorf("wkb: unsupported geometry type %d", base)
}

func assembleMulti(base uint32, members []geom.Geometry) (geom.Geometry, error) {
	switch base {
	case wkbMultiPoint:
		out := geom.Geometry{Type: geom.TypeMultiPoint}
		for _, m := range members {
			if m.Type != geom.TypePoint {
				return geom.Geometry{}, fmt.Errorf("wkb: %s inside MultiPoint", m.Type)
			}
			out.MultiPoint = append(out.MultiPoint, m.Point)
		}
		return out, nil
	case wkbMultiLineString:
		out := geom.Geometry{Type: geom.TypeMultiLineString}
		for _, m := range members {
			if m.Type != geom.TypeLineString {
				return geom.Geometry{}, fmt.Errorf("wkb: %s inside MultiLineString", m.Type)
			}
			out.MultiLine = append(out.MultiLine, m.Line)
		}
		return out, nil
	case wkbMultiPolygon:
		out := geom.Geometry{Type: geom.TypeMultiPolygon}
		for _, m := range members {
			if m.Type != geom.TypePolygon {
				return geom.Geometry{}, fmt.Errorf("wkb: %s inside MultiPolygon", m.Type)
			}
			out.MultiPolygon = append(out.MultiPolygon, m.Polygon)
		}
		return out, nil
	default:
		return geom.Geometry{Type: geom.TypeCollection, Geometries: members}, nil
	}
}
