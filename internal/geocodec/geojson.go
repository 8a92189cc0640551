package geocodec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/crs"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

type geojsonFeature struct {
	ID         any            `json:"id,omitempty"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   *geom.Geometry `json:"geometry"`
}

type geojsonCollection struct {
	Type     string           `json:"type"`
	CRS      *geojsonCRS      `json:"crs,omitempty"`
	Features []geojsonFeature `json:"features"`
}

// geojsonCRS is the legacy (GeoJSON 2008) named-CRS member; RFC 7946 dropped
// it, but producers still emit it and it is the only in-band CRS signal.
type geojsonCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

func loadGeoJSON(data []byte) (model.FeatureCollection, error) {
	var doc geojsonCollection
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("parse geojson: %w", err))
	}
	if doc.Type != "FeatureCollection" {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("parse geojson: type is %q (want FeatureCollection)", doc.Type))
	}

	// RFC 7946 geojson is WGS84 unless a legacy crs member says otherwise
	epsg := 4326
	if doc.CRS != nil {
		if code, ok := parseCRSName(doc.CRS.Properties.Name); ok {
			epsg = code
		}
	}

	fc := model.FeatureCollection{EPSG: epsg}
	for _, f := range doc.Features {
		row := model.Row{Attrs: f.Properties}
		if row.Attrs == nil {
			row.Attrs = map[string]any{}
		}
		if f.Geometry != nil {
			row.Geom = *f.Geometry
		}
		fc.Rows = append(fc.Rows, row)
	}
	return fc, nil
}

// parseCRSName accepts "EPSG:4326", "urn:ogc:def:crs:EPSG::4326" and the
// OGC CRS84 alias.
func parseCRSName(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false
	}
	if strings.EqualFold(name, "urn:ogc:def:crs:OGC:1.3:CRS84") {
		return 4326, true
	}
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		if code, err := strconv.Atoi(name[i+1:]); err == nil && code > 0 {
			return code, true
		}
	}
	if code, err := crs.Parse(name); err == nil && code != crs.Unknown {
		return code, true
	}
	return 0, false
}

func dumpGeoJSON(fc model.FeatureCollection) ([]byte, error) {
	doc := geojsonCollection{
		Type:     "FeatureCollection",
		Features: make([]geojsonFeature, 0, len(fc.Rows)),
	}
	for i, row := range fc.Rows {
		g := row.Geom
		props := row.Attrs
		if props == nil {
			props = map[string]any{}
		}
		doc.Features = append(doc.Features, geojsonFeature{
			ID:         strconv.Itoa(i),
			Type:       "Feature",
			Properties: props,
			Geometry:   &g,
		})
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, geoerr.Processing(fmt.Errorf("encode geojson: %w", err))
	}
	return out, nil
}
