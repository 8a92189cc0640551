package geocodec

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

// KML carries no CRS; coordinates are always WGS84 lon/lat.
const kmlEPSG = 4326

const kmlNamespace = "http://www.opengis.net/kml/2.2"

type kmlRoot struct {
	XMLName    xml.Name       `xml:"kml"`
	Xmlns      string         `xml:"xmlns,attr,omitempty"`
	Document   *kmlContainer  `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlContainer struct {
	Name       string         `xml:"name,omitempty"`
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Placemarks []kmlPlacemark `xml:"Placemark"`
}

type kmlPlacemark struct {
	Name         string       `xml:"name,omitempty"`
	Description  string       `xml:"description,omitempty"`
	ExtendedData *kmlExtended `xml:"ExtendedData"`
	Point        *kmlPoint    `xml:"Point"`
	LineString   *kmlLine     `xml:"LineString"`
	Polygon      *kmlPolygon  `xml:"Polygon"`
	Multi        *kmlMulti    `xml:"MultiGeometry"`
}

type kmlExtended struct {
	Data       []kmlData        `xml:"Data"`
	SchemaData []kmlSchemaDatum `xml:"SchemaData"`
}

type kmlData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// kmlSchemaDatum covers LIBKML-style typed attributes; read-only, we always
// write plain Data elements.
type kmlSchemaDatum struct {
	SimpleData []kmlData `xml:"SimpleData"`
}

type kmlPoint struct {
	Coordinates string `xml:"coordinates"`
}

type kmlLine struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	Ring kmlRing `xml:"LinearRing"`
}

type kmlRing struct {
	Coordinates string `xml:"coordinates"`
}

type kmlMulti struct {
	Points   []kmlPoint   `xml:"Point"`
	Lines    []kmlLine    `xml:"LineString"`
	Polygons []kmlPolygon `xml:"Polygon"`
}

func loadKML(data []byte) (model.FeatureCollection, error) {
	var root kmlRoot
	if err := xml.Unmarshal(data, &root); err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("parse kml: %w", err))
	}

	var placemarks []kmlPlacemark
	placemarks = append(placemarks, root.Placemarks...)
	if root.Document != nil {
		placemarks = append(placemarks, collectPlacemarks(*root.Document)...)
	}
	for _, f := range root.Folders {
		placemarks = append(placemarks, collectPlacemarks(f)...)
	}

	fc := model.FeatureCollection{EPSG: kmlEPSG}
	for _, pm := range placemarks {
		row := model.Row{Attrs: map[string]any{}}
		if pm.Name != "" {
			row.Attrs["name"] = pm.Name
		}
		if pm.Description != "" {
			row.Attrs["description"] = pm.Description
		}
		if pm.ExtendedData != nil {
			for _, d := range pm.ExtendedData.Data {
				row.Attrs[d.Name] = kmlValue(d.Value)
			}
			for _, sd := range pm.ExtendedData.SchemaData {
				for _, d := range sd.SimpleData {
					row.Attrs[d.Name] = kmlValue(d.Value)
				}
			}
		}
		g, err := placemarkGeometry(pm)
		if err != nil {
			return model.FeatureCollection{}, err
		}
		row.Geom = g
		fc.Rows = append(fc.Rows, row)
	}
	return fc, nil
}

func collectPlacemarks(c kmlContainer) []kmlPlacemark {
	out := append([]kmlPlacemark(nil), c.Placemarks...)
	for _, d := range c.Documents {
		out = append(out, collectPlacemarks(d)...)
	}
	for _, f := range c.Folders {
		out = append(out, collectPlacemarks(f)...)
	}
	return out
}

// kmlValue recovers numbers and booleans from KML's untyped strings.
func kmlValue(s string) any {
	t := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return f
	}
	switch t {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

func placemarkGeometry(pm kmlPlacemark) (geom.Geometry, error) {
	switch {
	case pm.Point != nil:
		pts, err := parseKMLCoords(pm.Point.Coordinates)
		if err != nil || len(pts) == 0 {
			return geom.Geometry{}, err
		}
		return geom.Geometry{Type: geom.TypePoint, Point: pts[0]}, nil
	case pm.LineString != nil:
		pts, err := parseKMLCoords(pm.LineString.Coordinates)
		if err != nil {
			return geom.Geometry{}, err
		}
		return geom.Geometry{Type: geom.TypeLineString, Line: pts}, nil
	case pm.Polygon != nil:
		return kmlPolygonGeometry(*pm.Polygon)
	case pm.Multi != nil:
		return kmlMultiGeometry(*pm.Multi)
	}
	return geom.Geometry{}, nil // placemark without geometry becomes a dropped row
}

func kmlPolygonGeometry(p kmlPolygon) (geom.Geometry, error) {
	outer, err := parseKMLCoords(p.Outer.Ring.Coordinates)
	if err != nil {
		return geom.Geometry{}, err
	}
	rings := [][]geom.Position{geom.CloseRing(outer)}
	for _, inner := range p.Inner {
		hole, err := parseKMLCoords(inner.Ring.Coordinates)
		if err != nil {
			return geom.Geometry{}, err
		}
		rings = append(rings, geom.CloseRing(hole))
	}
	return geom.Geometry{Type: geom.TypePolygon, Polygon: rings}, nil
}

func kmlMultiGeometry(m kmlMulti) (geom.Geometry, error) {
	var members []geom.Geometry
	for _, p := range m.Points {
		pts, err := parseKMLCoords(p.Coordinates)
		if err != nil {
			return geom.Geometry{}, err
		}
		if len(pts) > 0 {
			members = append(members, geom.Geometry{Type: geom.TypePoint, Point: pts[0]})
		}
	}
	for _, l := range m.Lines {
		pts, err := parseKMLCoords(l.Coordinates)
		if err != nil {
			return geom.Geometry{}, err
		}
		members = append(members, geom.Geometry{Type: geom.TypeLineString, Line: pts})
	}
	for _, p := range m.Polygons {
		g, err := kmlPolygonGeometry(p)
		if err != nil {
			return geom.Geometry{}, err
		}
		members = append(members, g)
	}
	return collapseMembers(members), nil
}

// collapseMembers folds homogeneous members back into a Multi* type.
func collapseMembers(members []geom.Geometry) geom.Geometry {
	if len(members) == 0 {
		return geom.Geometry{}
	}
	if len(members) == 1 {
		return members[0]
	}
	t := members[0].Type
	for _, m := range members[1:] {
		if m.Type != t {
			return geom.Geometry{Type: geom.TypeCollection, Geometries: members}
		}
	}
	switch t {
	case geom.TypePoint:
		out := geom.Geometry{Type: geom.TypeMultiPoint}
		for _, m := range members {
			out.MultiPoint = append(out.MultiPoint, m.Point)
		}
		return out
	case geom.TypeLineString:
		out := geom.Geometry{Type: geom.TypeMultiLineString}
		for _, m := range members {
			out.MultiLine = append(out.MultiLine, m.Line)
		}
		return out
	case geom.TypePolygon:
		out := geom.Geometry{Type: geom.TypeMultiPolygon}
		for _, m := range members {
			out.MultiPolygon = append(out.MultiPolygon, m.Polygon)
		}
		return out
	}
	return geom.Geometry{Type: geom.TypeCollection, Geometries: members}
}

// parseKMLCoords parses whitespace-separated "lon,lat[,alt]" tuples.
func parseKMLCoords(s string) ([]geom.Position, error) {
	var out []geom.Position
	for _, tuple := range strings.Fields(s) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, geoerr.Processing(fmt.Errorf("parse kml coordinates: bad tuple %q", tuple))
		}
		x, err1 := strconv.ParseFloat(parts[0], 64)
		y, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return nil, geoerr.Processing(fmt.Errorf("parse kml coordinates: bad tuple %q", tuple))
		}
		out = append(out, geom.Position{x, y})
	}
	return out, nil
}

func dumpKML(fc model.FeatureCollection) ([]byte, error) {
	doc := kmlContainer{}
	for _, row := range fc.Rows {
		pm := kmlPlacemark{}
		ext := &kmlExtended{}
		for _, k := range sortedKeys(row.Attrs) {
			v := row.Attrs[k]
			switch k {
			case "name":
				pm.Name = kmlString(v)
			case "description":
				pm.Description = kmlString(v)
			default:
				ext.Data = append(ext.Data, kmlData{Name: k, Value: kmlString(v)})
			}
		}
		if len(ext.Data) > 0 {
			pm.ExtendedData = ext
		}
		if err := setPlacemarkGeometry(&pm, row.Geom); err != nil {
			return nil, err
		}
		doc.Placemarks = append(doc.Placemarks, pm)
	}

	root := kmlRoot{Xmlns: kmlNamespace, Document: &doc}
	body, err := xml.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, geoerr.Processing(fmt.Errorf("encode kml: %w", err))
	}
	return append([]byte(xml.Header), body...), nil
}

func kmlString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func setPlacemarkGeometry(pm *kmlPlacemark, g geom.Geometry) error {
	switch g.Type {
	case geom.TypePoint:
		pm.Point = &kmlPoint{Coordinates: kmlCoords([]geom.Position{g.Point})}
	case geom.TypeLineString:
		pm.LineString = &kmlLine{Coordinates: kmlCoords(g.Line)}
	case geom.TypePolygon:
		pm.Polygon = kmlPolygonElement(g.Polygon)
	case geom.TypeMultiPoint, geom.TypeMultiLineString, geom.TypeMultiPolygon, geom.TypeCollection:
		multi := &kmlMulti{}
		for _, part := range g.Parts() {
			switch part.Type {
			case geom.TypePoint:
				multi.Points = append(multi.Points, kmlPoint{Coordinates: kmlCoords([]geom.Position{part.Point})})
			case geom.TypeLineString:
				multi.Lines = append(multi.Lines, kmlLine{Coordinates: kmlCoords(part.Line)})
			case geom.TypePolygon:
				multi.Polygons = append(multi.Polygons, *kmlPolygonElement(part.Polygon))
			}
		}
		pm.Multi = multi
	default:
		return geoerr.Processing(fmt.Errorf("encode kml: unsupported geometry type %q", g.Type))
	}
	return nil
}

func kmlPolygonElement(rings [][]geom.Position) *kmlPolygon {
	p := &kmlPolygon{}
	if len(rings) > 0 {
		p.Outer = kmlBoundary{Ring: kmlRing{Coordinates: kmlCoords(geom.CloseRing(rings[0]))}}
		for _, hole := range rings[1:] {
			p.Inner = append(p.Inner, kmlBoundary{Ring: kmlRing{Coordinates: kmlCoords(geom.CloseRing(hole))}})
		}
	}
	return p
}

func kmlCoords(pts []geom.Position) string {
	var b strings.Builder
	for i, p := range pts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatFloat(p[0], 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p[1], 'f', -1, 64))
	}
	return b.String()
}
