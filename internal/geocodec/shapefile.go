package geocodec

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	shp "github.com/jonas-p/go-shp"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

const shpBaseName = "features"

// prjEPSG maps WKT fingerprints of the projections we emit back to EPSG
// codes. Anything else falls through to the AUTHORITY clause.
var prjEPSG = []struct {
	needle string
	code   int
}{
	{"Pseudo-Mercator", 3857},
	{"Web_Mercator", 3857},
	{"RGF93", 2154},
	{"Lambert_93", 2154},
	{"GCS_WGS_1984", 4326},
	{"WGS 84", 4326},
	{"WGS_1984", 4326},
}

var epsgPRJ = map[int]string{
	4326: `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`,
	3857: `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3857"]]`,
	2154: `PROJCS["RGF93 / Lambert-93",GEOGCS["RGF93",DATUM["Reseau_Geodesique_Francais_1993",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Lambert_Conformal_Conic_2SP"],PARAMETER["standard_parallel_1",49],PARAMETER["standard_parallel_2",44],PARAMETER["latitude_of_origin",46.5],PARAMETER["central_meridian",3],PARAMETER["false_easting",700000],PARAMETER["false_northing",6600000],UNIT["metre",1],AUTHORITY["EPSG","2154"]]`,
}

// loadShapefile reads a zipped shapefile set (.shp/.shx/.dbf, optional .prj).
func loadShapefile(raw []byte) (model.FeatureCollection, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("open shapefile zip: %w", err))
	}

	dir, err := os.MkdirTemp("", "geodata-shp-*")
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(err)
	}
	defer os.RemoveAll(dir)

	shpPath := ""
	prj := ""
	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		if name == "" || f.FileInfo().IsDir() {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := extractZipEntry(f, dst); err != nil {
			return model.FeatureCollection{}, geoerr.Processing(err)
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case ".shp":
			shpPath = dst
		case ".prj":
			b, err := os.ReadFile(dst)
			if err == nil {
				prj = string(b)
			}
		}
	}
	if shpPath == "" {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("shapefile zip contains no .shp member"))
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("open shapefile: %w", err))
	}
	defer reader.Close()

	fields := reader.Fields()
	fc := model.FeatureCollection{EPSG: prjToEPSG(prj)}
	for reader.Next() {
		n, shape := reader.Shape()
		row := model.Row{Attrs: map[string]any{}, Geom: shapeGeometry(shape)}
		for i, f := range fields {
			row.Attrs[f.String()] = dbfValue(f, reader.ReadAttribute(n, i))
		}
		fc.Rows = append(fc.Rows, row)
	}
	return fc, nil
}

func extractZipEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// prjToEPSG sniffs the EPSG code out of .prj WKT. The fingerprint table
// covers the codes we write; unknown projections yield an unknown CRS
// rather than a guess.
func prjToEPSG(prj string) int {
	if prj == "" {
		return 0
	}
	for _, e := range prjEPSG {
		if strings.Contains(prj, e.needle) {
			return e.code
		}
	}
	if i := strings.LastIndex(prj, `AUTHORITY["EPSG","`); i >= 0 {
		rest := prj[i+len(`AUTHORITY["EPSG","`):]
		if j := strings.IndexByte(rest, '"'); j > 0 {
			if code, err := strconv.Atoi(rest[:j]); err == nil {
				return code
			}
		}
	}
	return 0
}

func dbfValue(f shp.Field, raw string) any {
	s := strings.TrimSpace(raw)
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return s
	case 'F':
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return s
	case 'L':
		switch strings.ToLower(s) {
		case "t", "y", "true", "1":
			return true
		case "f", "n", "false", "0":
			return false
		}
		return s
	default:
		return s
	}
}

func shapeGeometry(shape shp.Shape) geom.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.Geometry{Type: geom.TypePoint, Point: geom.Position{s.X, s.Y}}
	case *shp.MultiPoint:
		g := geom.Geometry{Type: geom.TypeMultiPoint}
		for _, p := range s.Points {
			g.MultiPoint = append(g.MultiPoint, geom.Position{p.X, p.Y})
		}
		return g
	case *shp.PolyLine:
		parts := shapeParts(s.Parts, s.Points)
		if len(parts) == 1 {
			return geom.Geometry{Type: geom.TypeLineString, Line: parts[0]}
		}
		return geom.Geometry{Type: geom.TypeMultiLineString, MultiLine: parts}
	case *shp.Polygon:
		pl := shp.PolyLine(*s)
		return ringsToPolygons(shapeParts(pl.Parts, pl.Points))
	default:
		return geom.Geometry{}
	}
}

func shapeParts(parts []int32, points []shp.Point) [][]geom.Position {
	out := make([][]geom.Position, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		pts := make([]geom.Position, 0, end-start)
		for _, p := range points[start:end] {
			pts = append(pts, geom.Position{p.X, p.Y})
		}
		out = append(out, pts)
	}
	return out
}

// ringsToPolygons regroups a shapefile's flat ring list: clockwise rings
// open a new polygon, counter-clockwise rings are holes in the last one.
func ringsToPolygons(rings [][]geom.Position) geom.Geometry {
	var polys [][][]geom.Position
	for _, ring := range rings {
		if len(ring) < 4 {
			continue
		}
		if ringIsClockwise(ring) || len(polys) == 0 {
			polys = append(polys, [][]geom.Position{ring})
		} else {
			polys[len(polys)-1] = append(polys[len(polys)-1], ring)
		}
	}
	switch len(polys) {
	case 0:
		return geom.Geometry{}
	case 1:
		return geom.Geometry{Type: geom.TypePolygon, Polygon: polys[0]}
	default:
		return geom.Geometry{Type: geom.TypeMultiPolygon, MultiPolygon: polys}
	}
}

func ringIsClockwise(ring []geom.Position) bool {
	sum := 0.0
	for i := 0; i < len(ring)-1; i++ {
		sum += (ring[i+1][0] - ring[i][0]) * (ring[i+1][1] + ring[i][1])
	}
	return sum > 0
}

func reverseRing(ring []geom.Position) []geom.Position {
	out := make([]geom.Position, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

func dumpShapefile(fc model.FeatureCollection) ([]byte, error) {
	shapeType, err := shapefileType(fc.Rows)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "geodata-shp-*")
	if err != nil {
		return nil, geoerr.Processing(err)
	}
	defer os.RemoveAll(dir)

	shpPath := filepath.Join(dir, shpBaseName+".shp")
	writer, err := shp.Create(shpPath, shapeType)
	if err != nil {
		return nil, geoerr.Processing(fmt.Errorf("create shapefile: %w", err))
	}

	cols := attributeColumns(fc.Rows)
	names := dbfNames(cols)
	fields := make([]shp.Field, len(cols))
	for i, c := range cols {
		switch columnKind(fc.Rows, c) {
		case "real":
			fields[i] = shp.FloatField(names[i], 24, 15)
		case "integer":
			fields[i] = shp.NumberField(names[i], 18)
		case "bool":
			fields[i] = shp.StringField(names[i], 5)
		default:
			fields[i] = shp.StringField(names[i], 254)
		}
	}
	writer.SetFields(fields)

	for _, row := range fc.Rows {
		n := writer.Write(shapefileShape(row.Geom, shapeType))
		for i, c := range cols {
			if err := writer.WriteAttribute(int(n), i, dbfAttr(row.Attrs[c])); err != nil {
				writer.Close()
				return nil, geoerr.Processing(fmt.Errorf("write dbf attribute %s: %w", c, err))
			}
		}
	}
	writer.Close()

	if wkt, ok := epsgPRJ[fc.EPSG]; ok {
		if err := os.WriteFile(filepath.Join(dir, shpBaseName+".prj"), []byte(wkt), 0o644); err != nil {
			return nil, geoerr.Processing(err)
		}
	}

	return zipDir(dir)
}

// shapefileType picks the single shape type the whole collection must share.
// Shapefiles cannot mix dimensions, so a mixed collection is an error.
func shapefileType(rows []model.Row) (shp.ShapeType, error) {
	dim := -1
	multi := false
	for _, r := range rows {
		d := r.Geom.Dimension()
		if dim == -1 {
			dim = d
		} else if dim != d {
			return 0, geoerr.Processing(fmt.Errorf("shapefile cannot mix geometry dimensions (%d and %d)", dim, d))
		}
		if r.Geom.Type == geom.TypeMultiPoint {
			multi = true
		}
	}
	switch dim {
	case 0:
		if multi {
			return shp.MULTIPOINT, nil
		}
		return shp.POINT, nil
	case 1:
		return shp.POLYLINE, nil
	case 2:
		return shp.POLYGON, nil
	}
	return 0, geoerr.Processing(fmt.Errorf("shapefile cannot represent geometry type"))
}

func shapefileShape(g geom.Geometry, shapeType shp.ShapeType) shp.Shape {
	switch shapeType {
	case shp.POINT:
		return &shp.Point{X: g.Point[0], Y: g.Point[1]}
	case shp.MULTIPOINT:
		pts := g.MultiPoint
		if g.Type == geom.TypePoint {
			pts = []geom.Position{g.Point}
		}
		mp := &shp.MultiPoint{NumPoints: int32(len(pts))}
		for _, p := range pts {
			mp.Points = append(mp.Points, shp.Point{X: p[0], Y: p[1]})
		}
		mp.Box = shapeBox(mp.Points)
		return mp
	case shp.POLYLINE:
		lines := g.MultiLine
		if g.Type == geom.TypeLineString {
			lines = [][]geom.Position{g.Line}
		}
		return shp.NewPolyLine(shpParts(lines))
	case shp.POLYGON:
		rings := shapefileRings(g)
		poly := shp.Polygon(*shp.NewPolyLine(shpParts(rings)))
		return &poly
	}
	return &shp.Null{}
}

// shapefileRings flattens polygons into the shapefile ring convention:
// outer rings clockwise, holes counter-clockwise.
func shapefileRings(g geom.Geometry) [][]geom.Position {
	polys := g.MultiPolygon
	if g.Type == geom.TypePolygon {
		polys = [][][]geom.Position{g.Polygon}
	}
	var rings [][]geom.Position
	for _, poly := range polys {
		for i, ring := range poly {
			ring = geom.CloseRing(ring)
			cw := ringIsClockwise(ring)
			if (i == 0 && !cw) || (i > 0 && cw) {
				ring = reverseRing(ring)
			}
			rings = append(rings, ring)
		}
	}
	return rings
}

func shpParts(parts [][]geom.Position) [][]shp.Point {
	out := make([][]shp.Point, len(parts))
	for i, part := range parts {
		for _, p := range part {
			out[i] = append(out[i], shp.Point{X: p[0], Y: p[1]})
		}
	}
	return out
}

func shapeBox(pts []shp.Point) shp.Box {
	if len(pts) == 0 {
		return shp.Box{}
	}
	b := shp.Box{MinX: pts[0].X, MinY: pts[0].Y, MaxX: pts[0].X, MaxY: pts[0].Y}
	for _, p := range pts[1:] {
		if p.X < b.MinX {
			b.MinX = p.X
		}
		if p.Y < b.MinY {
			b.MinY = p.Y
		}
		if p.X > b.MaxX {
			b.MaxX = p.X
		}
		if p.Y > b.MaxY {
			b.MaxY = p.Y
		}
	}
	return b
}

func dbfAttr(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return v
	}
}

// dbfNames truncates column names to the DBF 10-character limit and
// uniquifies collisions with a numeric suffix.
func dbfNames(cols []string) []string {
	out := make([]string, len(cols))
	used := map[string]bool{}
	for i, c := range cols {
		name := c
		if len(name) > 10 {
			name = name[:10]
		}
		for n := 1; used[name]; n++ {
			suffix := strconv.Itoa(n)
			base := c
			if len(base) > 10-len(suffix) {
				base = base[:10-len(suffix)]
			}
			name = base + suffix
		}
		used[name] = true
		out[i] = name
	}
	return out
}

func zipDir(dir string) ([]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, geoerr.Processing(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			zw.Close()
			return nil, geoerr.Processing(err)
		}
		w, err := zw.Create(e.Name())
		if err != nil {
			zw.Close()
			return nil, geoerr.Processing(err)
		}
		if _, err := w.Write(content); err != nil {
			zw.Close()
			return nil, geoerr.Processing(err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, geoerr.Processing(err)
	}
	return buf.Bytes(), nil
}
