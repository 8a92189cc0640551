package geocodec

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

func squareFC(epsg int) model.FeatureCollection {
	return model.FeatureCollection{
		EPSG: epsg,
		Rows: []model.Row{
			{
				Attrs: map[string]any{"name": "unit square", "rank": int64(1), "score": 0.5},
				Geom: geom.Geometry{
					Type: geom.TypePolygon,
					Polygon: [][]geom.Position{{
						{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0},
					}},
				},
			},
			{
				Attrs: map[string]any{"name": "offset square", "rank": int64(2), "score": 1.5},
				Geom: geom.Geometry{
					Type: geom.TypePolygon,
					Polygon: [][]geom.Position{{
						{2, 2}, {3, 2}, {3, 3}, {2, 3}, {2, 2},
					}},
				},
			},
		},
	}
}

func roundTrip(t *testing.T, fc model.FeatureCollection, format string) model.FeatureCollection {
	t.Helper()
	env, err := Dump(fc, format)
	if err != nil {
		t.Fatalf("Dump(%s): %v", format, err)
	}
	if env.Format != format {
		t.Fatalf("envelope format=%q want %q", env.Format, format)
	}
	wantEnc := model.EncodingUTF8
	if IsBinary(format) {
		wantEnc = model.EncodingBase64
	}
	if env.Encoding != wantEnc {
		t.Fatalf("envelope encoding=%q want %q", env.Encoding, wantEnc)
	}
	got, err := Load(env.Data, format, "")
	if err != nil {
		t.Fatalf("Load(%s): %v", format, err)
	}
	return got
}

func samePosition(a, b geom.Position) bool {
	return math.Abs(a[0]-b[0]) < 1e-9 && math.Abs(a[1]-b[1]) < 1e-9
}

func TestNormalizeFormat_JSONAlias_MapsToGeoJSON(t *testing.T) {
	got, err := NormalizeFormat("JSON")
	if err != nil {
		t.Fatalf("NormalizeFormat: %v", err)
	}
	if got != FormatGeoJSON {
		t.Fatalf("got %q want %q", got, FormatGeoJSON)
	}
}

func TestNormalizeFormat_Unknown_ReturnsUnsupportedFormat(t *testing.T) {
	_, err := NormalizeFormat("dxf")
	if !errors.Is(err, geoerr.ErrUnsupportedFormat) {
		t.Fatalf("err=%v want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeFormat_Empty_ReturnsMissingParameter(t *testing.T) {
	_, err := NormalizeFormat("")
	if !errors.Is(err, geoerr.ErrMissingParameter) {
		t.Fatalf("err=%v want ErrMissingParameter", err)
	}
}

func TestLoad_GeoJSONDefaultCRS_Is4326(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"a"},"geometry":{"type":"Point","coordinates":[1,2]}}
	]}`
	fc, err := Load(data, FormatGeoJSON, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.EPSG != 4326 {
		t.Fatalf("EPSG=%d want 4326", fc.EPSG)
	}
	if len(fc.Rows) != 1 || fc.Rows[0].Geom.Type != geom.TypePoint {
		t.Fatalf("unexpected rows: %+v", fc.Rows)
	}
}

func TestLoad_GeoJSONLegacyCRSMember_OverridesDefault(t *testing.T) {
	data := `{"type":"FeatureCollection",
		"crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:EPSG::3857"}},
		"features":[{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[10,20]}}]}`
	fc, err := Load(data, FormatGeoJSON, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.EPSG != 3857 {
		t.Fatalf("EPSG=%d want 3857", fc.EPSG)
	}
}

func TestLoad_SourceCRSParameter_OverridesDeclared(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[600000,2200000]}}
	]}`
	fc, err := Load(data, FormatGeoJSON, "EPSG:2154")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fc.EPSG != 2154 {
		t.Fatalf("EPSG=%d want 2154", fc.EPSG)
	}
}

func TestLoad_NullGeometriesDropped_EmptyCollectionIsError(t *testing.T) {
	data := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"ghost"},"geometry":null}
	]}`
	_, err := Load(data, FormatGeoJSON, "")
	if !errors.Is(err, geoerr.ErrEmptyResult) {
		t.Fatalf("err=%v want ErrEmptyResult", err)
	}
}

func TestDump_EmptyCollection_ReturnsEmptyResult(t *testing.T) {
	_, err := Dump(model.FeatureCollection{EPSG: 4326}, FormatGeoJSON)
	if !errors.Is(err, geoerr.ErrEmptyResult) {
		t.Fatalf("err=%v want ErrEmptyResult", err)
	}
}

func TestDump_DefaultFormat_IsGeoJSON(t *testing.T) {
	env, err := Dump(squareFC(4326), "")
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if env.Format != FormatGeoJSON {
		t.Fatalf("format=%q want geojson", env.Format)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(env.Data), &doc); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if doc["type"] != "FeatureCollection" {
		t.Fatalf("type=%v want FeatureCollection", doc["type"])
	}
}

func TestRoundTrip_GeoJSON_PreservesGeometryAndAttrs(t *testing.T) {
	got := roundTrip(t, squareFC(4326), FormatGeoJSON)
	if len(got.Rows) != 2 {
		t.Fatalf("rows=%d want 2", len(got.Rows))
	}
	if got.Rows[0].Attrs["name"] != "unit square" {
		t.Fatalf("attrs lost: %+v", got.Rows[0].Attrs)
	}
	if got.Rows[0].Geom.Type != geom.TypePolygon {
		t.Fatalf("geom type=%q want Polygon", got.Rows[0].Geom.Type)
	}
	if !samePosition(got.Rows[0].Geom.Polygon[0][1], geom.Position{1, 0}) {
		t.Fatalf("coordinates drifted: %+v", got.Rows[0].Geom.Polygon[0])
	}
}

func TestRoundTrip_KML_PreservesNamesAndCoordinates(t *testing.T) {
	got := roundTrip(t, squareFC(4326), FormatKML)
	if len(got.Rows) != 2 {
		t.Fatalf("rows=%d want 2", len(got.Rows))
	}
	// kml has no native crs; the codec pins it to 4326
	if got.EPSG != 4326 {
		t.Fatalf("EPSG=%d want 4326", got.EPSG)
	}
	if got.Rows[0].Attrs["name"] != "unit square" {
		t.Fatalf("name lost: %+v", got.Rows[0].Attrs)
	}
	if got.Rows[0].Geom.Type != geom.TypePolygon {
		t.Fatalf("geom type=%q want Polygon", got.Rows[0].Geom.Type)
	}
}

func TestRoundTrip_GPKG_PreservesCRSAndAttrs(t *testing.T) {
	got := roundTrip(t, squareFC(3857), FormatGPKG)
	if got.EPSG != 3857 {
		t.Fatalf("EPSG=%d want 3857", got.EPSG)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows=%d want 2", len(got.Rows))
	}
	if got.Rows[1].Attrs["name"] != "offset square" {
		t.Fatalf("attrs lost: %+v", got.Rows[1].Attrs)
	}
	if got.Rows[1].Attrs["rank"] != int64(2) {
		t.Fatalf("integer column lost: %+v", got.Rows[1].Attrs["rank"])
	}
	if !samePosition(got.Rows[1].Geom.Polygon[0][0], geom.Position{2, 2}) {
		t.Fatalf("coordinates drifted: %+v", got.Rows[1].Geom.Polygon[0])
	}
}

func TestRoundTrip_Shapefile_PreservesPolygonsAndPRJ(t *testing.T) {
	got := roundTrip(t, squareFC(4326), FormatShapefile)
	if got.EPSG != 4326 {
		t.Fatalf("EPSG=%d want 4326 (from .prj)", got.EPSG)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows=%d want 2", len(got.Rows))
	}
	if got.Rows[0].Geom.Type != geom.TypePolygon {
		t.Fatalf("geom type=%q want Polygon", got.Rows[0].Geom.Type)
	}
	if got.Rows[0].Attrs["name"] != "unit square" {
		t.Fatalf("dbf attrs lost: %+v", got.Rows[0].Attrs)
	}
}

func TestRoundTrip_Shapefile_LinesComeBackAsLines(t *testing.T) {
	fc := model.FeatureCollection{
		EPSG: 4326,
		Rows: []model.Row{{
			Attrs: map[string]any{"road": "a1"},
			Geom: geom.Geometry{
				Type: geom.TypeLineString,
				Line: []geom.Position{{0, 0}, {1, 1}, {2, 0}},
			},
		}},
	}
	got := roundTrip(t, fc, FormatShapefile)
	if got.Rows[0].Geom.Type != geom.TypeLineString {
		t.Fatalf("geom type=%q want LineString", got.Rows[0].Geom.Type)
	}
	if len(got.Rows[0].Geom.Line) != 3 {
		t.Fatalf("vertices=%d want 3", len(got.Rows[0].Geom.Line))
	}
}

func TestDump_Shapefile_MixedDimensions_Fails(t *testing.T) {
	fc := squareFC(4326)
	fc.Rows = append(fc.Rows, model.Row{
		Attrs: map[string]any{},
		Geom:  geom.Geometry{Type: geom.TypePoint, Point: geom.Position{5, 5}},
	})
	_, err := Dump(fc, FormatShapefile)
	if !errors.Is(err, geoerr.ErrProcessing) {
		t.Fatalf("err=%v want ErrProcessing", err)
	}
}

func TestLoad_BinaryFormatWithBadBase64_Fails(t *testing.T) {
	_, err := Load("not base64!!!", FormatGPKG, "")
	if !errors.Is(err, geoerr.ErrProcessing) {
		t.Fatalf("err=%v want ErrProcessing", err)
	}
}

func TestDBFNames_LongAndColliding_AreTruncatedUnique(t *testing.T) {
	names := dbfNames([]string{"population_density", "population_total", "name"})
	seen := map[string]bool{}
	for _, n := range names {
		if len(n) > 10 {
			t.Fatalf("name %q longer than 10", n)
		}
		if seen[n] {
			t.Fatalf("duplicate dbf name %q", n)
		}
		seen[n] = true
	}
}
