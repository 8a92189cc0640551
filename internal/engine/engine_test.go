package engine

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

func testEngine() *Engine { return New(nil) }

func fcJSON(t *testing.T, rows ...string) string {
	t.Helper()
	out := `{"type":"FeatureCollection","features":[`
	for i, r := range rows {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out + `]}`
}

func polyFeature(props string, x0, y0, x1, y1 float64) string {
	b, _ := json.Marshal(geom.Geometry{
		Type: geom.TypePolygon,
		Polygon: [][]geom.Position{{
			{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
		}},
	})
	return `{"type":"Feature","properties":` + props + `,"geometry":` + string(b) + `}`
}

func decodeRows(t *testing.T, env model.Envelope) []struct {
	Properties map[string]any `json:"properties"`
	Geometry   geom.Geometry  `json:"geometry"`
} {
	t.Helper()
	if env.Format != "geojson" {
		t.Fatalf("format=%q want geojson", env.Format)
	}
	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
			Geometry   geom.Geometry  `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal([]byte(env.Data), &doc); err != nil {
		t.Fatalf("decode result: %v\n%s", err, env.Data)
	}
	return doc.Features
}

func TestReproject_MissingTargetCRS_FailsFast(t *testing.T) {
	_, err := testEngine().Reproject(ReprojectRequest{Data: "irrelevant", InputFormat: "geojson"})
	if !errors.Is(err, geoerr.ErrMissingParameter) {
		t.Fatalf("err=%v want ErrMissingParameter", err)
	}
}

func TestReproject_MovesCoordinates(t *testing.T) {
	in := fcJSON(t, polyFeature(`{"name":"a"}`, 0, 0, 1, 1))
	env, err := testEngine().Reproject(ReprojectRequest{
		Data: in, InputFormat: "geojson", TargetCRS: "EPSG:3857",
	})
	if err != nil {
		t.Fatalf("Reproject: %v", err)
	}
	if env.CRS == nil || *env.CRS != "EPSG:3857" {
		t.Fatalf("envelope crs=%v", env.CRS)
	}
	rows := decodeRows(t, env)
	// 1 degree of longitude is ~111 km in web mercator
	if x := rows[0].Geometry.Polygon[0][1][0]; x < 100000 {
		t.Fatalf("x=%v, does not look reprojected", x)
	}
}

func TestBuffer_InvalidCapStyle_FailsBeforeParsing(t *testing.T) {
	_, err := testEngine().Buffer(BufferRequest{
		Data: "garbage that would fail to parse", InputFormat: "geojson",
		Distance: 1, CapStyle: "pointy",
	})
	if !errors.Is(err, geoerr.ErrInvalidStyleParameter) {
		t.Fatalf("err=%v want ErrInvalidStyleParameter", err)
	}
}

func TestBuffer_BothMitreSpellings_Accepted(t *testing.T) {
	in := fcJSON(t, polyFeature(`{}`, 0, 0, 10, 10))
	for _, spelling := range []string{"mitre", "miter"} {
		_, err := testEngine().Buffer(BufferRequest{
			Data: in, InputFormat: "geojson", Distance: 1,
			SourceCRS: "EPSG:3857", JoinStyle: spelling,
		})
		if err != nil {
			t.Fatalf("join_style=%q: %v", spelling, err)
		}
	}
}

func TestBuffer_UnparsableBufferCRS_Fails(t *testing.T) {
	in := fcJSON(t, polyFeature(`{}`, 0, 0, 1, 1))
	_, err := testEngine().Buffer(BufferRequest{
		Data: in, InputFormat: "geojson", Distance: 1, BufferCRS: "ESRI:102100",
	})
	if !errors.Is(err, geoerr.ErrIncompatibleCRS) {
		t.Fatalf("err=%v want ErrIncompatibleCRS", err)
	}
}

func TestBuffer_PositiveGrows_NegativeShrinks(t *testing.T) {
	in := fcJSON(t, polyFeature(`{}`, 0, 0, 100, 100))
	e := testEngine()

	grown, err := e.Buffer(BufferRequest{
		Data: in, InputFormat: "geojson", Distance: 10, SourceCRS: "EPSG:3857",
	})
	if err != nil {
		t.Fatalf("Buffer +10: %v", err)
	}
	shrunk, err := e.Buffer(BufferRequest{
		Data: in, InputFormat: "geojson", Distance: -10, SourceCRS: "EPSG:3857",
	})
	if err != nil {
		t.Fatalf("Buffer -10: %v", err)
	}
	ga := decodeRows(t, grown)[0].Geometry.Area()
	sa := decodeRows(t, shrunk)[0].Geometry.Area()
	if !(sa < 10000 && 10000 < ga) {
		t.Fatalf("areas out of order: shrunk=%v original=10000 grown=%v", sa, ga)
	}
}

func TestBufferedSquare_BBoxContainsOriginal(t *testing.T) {
	in := fcJSON(t, polyFeature(`{}`, 0, 0, 100, 100))
	e := testEngine()
	buffered, err := e.Buffer(BufferRequest{
		Data: in, InputFormat: "geojson", Distance: 5, SourceCRS: "EPSG:3857",
	})
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	bb, err := e.BBox(BBoxRequest{Data: buffered.Data, InputFormat: "geojson", SourceCRS: "EPSG:3857"})
	if err != nil {
		t.Fatalf("BBox: %v", err)
	}
	if !(bb.Bounds.MinX <= 0 && bb.Bounds.MinY <= 0 && bb.Bounds.MaxX >= 100 && bb.Bounds.MaxY >= 100) {
		t.Fatalf("buffered bbox %+v does not contain the original square", bb.Bounds)
	}
	if bb.Bounds.MinX < -5.1 || bb.Bounds.MaxX > 105.1 {
		t.Fatalf("buffered bbox %+v grew more than the distance", bb.Bounds)
	}
}

func TestBuffer_MetricCRSRoundTrip_GrowsGeographicBBox(t *testing.T) {
	// diamond around the origin in degrees, buffered in meters
	diamond := `{"type":"Feature","properties":{},"geometry":{"type":"Polygon",` +
		`"coordinates":[[[-1,0],[0,1],[1,0],[0,-1],[-1,0]]]}}`
	e := testEngine()

	buffered, err := e.Buffer(BufferRequest{
		Data:        fcJSON(t, diamond),
		InputFormat: "geojson",
		Distance:    500,
		SourceCRS:   "EPSG:4326",
		BufferCRS:   "EPSG:3857",
		OutputCRS:   "EPSG:4326",
	})
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if buffered.CRS == nil || *buffered.CRS != "EPSG:4326" {
		t.Fatalf("crs=%v want EPSG:4326", buffered.CRS)
	}
	bb, err := e.BBox(BBoxRequest{Data: buffered.Data, InputFormat: "geojson"})
	if err != nil {
		t.Fatalf("BBox: %v", err)
	}
	if !(bb.Bounds.MinX < -1 && bb.Bounds.MinY < -1 && bb.Bounds.MaxX > 1 && bb.Bounds.MaxY > 1) {
		t.Fatalf("buffered bbox %+v does not strictly contain the diamond's bbox", bb.Bounds)
	}
}

func TestIntersect_KeepsAttributesFromBothSides(t *testing.T) {
	a := fcJSON(t, polyFeature(`{"zone":"a","name":"left"}`, 0, 0, 4, 4))
	b := fcJSON(t, polyFeature(`{"owner":"b","name":"right"}`, 2, 2, 6, 6))
	env, err := testEngine().Intersect(IntersectRequest{
		DataA: a, InputFormatA: "geojson", DataB: b, InputFormatB: "geojson",
	})
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want 1", len(rows))
	}
	p := rows[0].Properties
	if p["zone"] != "a" || p["owner"] != "b" {
		t.Fatalf("attributes lost: %+v", p)
	}
	if p["name"] != "left" || p["name_2"] != "right" {
		t.Fatalf("collision handling wrong: %+v", p)
	}
}

func TestIntersect_CommutativeOnArea(t *testing.T) {
	a := fcJSON(t, polyFeature(`{}`, 0, 0, 4, 4))
	b := fcJSON(t, polyFeature(`{}`, 1, 1, 7, 3))
	e := testEngine()
	ab, err := e.Intersect(IntersectRequest{DataA: a, InputFormatA: "geojson", DataB: b, InputFormatB: "geojson"})
	if err != nil {
		t.Fatalf("Intersect(a,b): %v", err)
	}
	ba, err := e.Intersect(IntersectRequest{DataA: b, InputFormatA: "geojson", DataB: a, InputFormatB: "geojson"})
	if err != nil {
		t.Fatalf("Intersect(b,a): %v", err)
	}
	areaAB := decodeRows(t, ab)[0].Geometry.Area()
	areaBA := decodeRows(t, ba)[0].Geometry.Area()
	if areaAB != areaBA {
		t.Fatalf("areas differ: %v vs %v", areaAB, areaBA)
	}
}

func TestIntersect_NoOverlap_IsEmptyResult(t *testing.T) {
	a := fcJSON(t, polyFeature(`{}`, 0, 0, 1, 1))
	b := fcJSON(t, polyFeature(`{}`, 5, 5, 6, 6))
	_, err := testEngine().Intersect(IntersectRequest{
		DataA: a, InputFormatA: "geojson", DataB: b, InputFormatB: "geojson",
	})
	if !errors.Is(err, geoerr.ErrEmptyResult) {
		t.Fatalf("err=%v want ErrEmptyResult", err)
	}
}

func TestIntersect_DifferentCRS_FirstInputWins(t *testing.T) {
	a := fcJSON(t, polyFeature(`{}`, 0, 0, 200000, 200000))
	b := fcJSON(t, polyFeature(`{}`, 0, 0, 2, 2))
	env, err := testEngine().Intersect(IntersectRequest{
		DataA: a, InputFormatA: "geojson", SourceCRSA: "EPSG:3857",
		DataB: b, InputFormatB: "geojson", SourceCRSB: "EPSG:4326",
	})
	if err != nil {
		t.Fatalf("Intersect: %v", err)
	}
	if env.CRS == nil || *env.CRS != "EPSG:3857" {
		t.Fatalf("result crs=%v want a's EPSG:3857", env.CRS)
	}
}

func TestClip_AttributesFromDataOnly(t *testing.T) {
	data := fcJSON(t, polyFeature(`{"parcel":"p1"}`, 0, 0, 4, 4))
	mask := fcJSON(t, polyFeature(`{"mask_attr":"should not appear"}`, 2, 2, 6, 6))
	env, err := testEngine().Clip(ClipRequest{
		Data: data, InputFormat: "geojson", ClipData: mask, ClipFormat: "geojson",
	})
	if err != nil {
		t.Fatalf("Clip: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want 1", len(rows))
	}
	if rows[0].Properties["parcel"] != "p1" {
		t.Fatalf("data attrs lost: %+v", rows[0].Properties)
	}
	if _, leaked := rows[0].Properties["mask_attr"]; leaked {
		t.Fatalf("mask attrs leaked: %+v", rows[0].Properties)
	}
}

func TestConvert_MissingOutputFormat_Fails(t *testing.T) {
	_, err := testEngine().Convert(ConvertRequest{Data: "x", InputFormat: "geojson"})
	if !errors.Is(err, geoerr.ErrMissingParameter) {
		t.Fatalf("err=%v want ErrMissingParameter", err)
	}
}

func TestConvert_GeoJSONToKML_CarriesCRS(t *testing.T) {
	in := fcJSON(t, polyFeature(`{"name":"a"}`, 0, 0, 1, 1))
	env, err := testEngine().Convert(ConvertRequest{Data: in, InputFormat: "geojson", OutputFormat: "kml"})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if env.Format != "kml" || env.Encoding != model.EncodingUTF8 {
		t.Fatalf("envelope %+v", env)
	}
	if env.CRS == nil || *env.CRS != "EPSG:4326" {
		t.Fatalf("crs=%v want EPSG:4326", env.CRS)
	}
}

func TestBBox_SpansAllFeatures(t *testing.T) {
	in := fcJSON(t,
		polyFeature(`{}`, 0, 0, 1, 1),
		polyFeature(`{}`, 10, -5, 12, 2),
	)
	bb, err := testEngine().BBox(BBoxRequest{Data: in, InputFormat: "geojson"})
	if err != nil {
		t.Fatalf("BBox: %v", err)
	}
	want := model.Bounds{MinX: 0, MinY: -5, MaxX: 12, MaxY: 2}
	if bb.Bounds != want {
		t.Fatalf("bounds=%+v want %+v", bb.Bounds, want)
	}
	if bb.Format != "bbox" {
		t.Fatalf("format=%q want bbox", bb.Format)
	}
}

func TestDissolve_GroupsByAttribute(t *testing.T) {
	in := fcJSON(t,
		polyFeature(`{"region":"north","pop":10}`, 0, 0, 2, 2),
		polyFeature(`{"region":"north","pop":20}`, 1, 0, 3, 2),
		polyFeature(`{"region":"south","pop":5}`, 10, 10, 12, 12),
	)
	env, err := testEngine().Dissolve(DissolveRequest{
		Data: in, InputFormat: "geojson", By: "region",
		Aggregations: map[string]string{"pop": "sum"},
	})
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 2 {
		t.Fatalf("groups=%d want 2", len(rows))
	}
	byRegion := map[string]map[string]any{}
	for _, r := range rows {
		byRegion[r.Properties["region"].(string)] = r.Properties
	}
	if byRegion["north"]["pop"].(float64) != 30 {
		t.Fatalf("north pop=%v want 30", byRegion["north"]["pop"])
	}
	if byRegion["south"]["pop"].(float64) != 5 {
		t.Fatalf("south pop=%v want 5", byRegion["south"]["pop"])
	}
}

func TestDissolve_NoBy_MergesAll(t *testing.T) {
	in := fcJSON(t,
		polyFeature(`{"pop":1}`, 0, 0, 1, 1),
		polyFeature(`{"pop":2}`, 5, 5, 6, 6),
	)
	env, err := testEngine().Dissolve(DissolveRequest{Data: in, InputFormat: "geojson"})
	if err != nil {
		t.Fatalf("Dissolve: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 1 {
		t.Fatalf("rows=%d want 1", len(rows))
	}
	if rows[0].Geometry.Type != geom.TypeMultiPolygon {
		t.Fatalf("merged type=%q want MultiPolygon", rows[0].Geometry.Type)
	}
}

func TestDissolve_UnknownReduction_Fails(t *testing.T) {
	_, err := testEngine().Dissolve(DissolveRequest{
		Data: "x", InputFormat: "geojson",
		Aggregations: map[string]string{"pop": "median"},
	})
	if !errors.Is(err, geoerr.ErrInvalidStyleParameter) {
		t.Fatalf("err=%v want ErrInvalidStyleParameter", err)
	}
}

func TestDissolve_MeanMinMaxReductions(t *testing.T) {
	in := fcJSON(t,
		polyFeature(`{"v":2}`, 0, 0, 1, 1),
		polyFeature(`{"v":4}`, 5, 5, 6, 6),
		polyFeature(`{"v":9}`, 10, 10, 11, 11),
	)
	cases := map[string]float64{"mean": 5, "min": 2, "max": 9}
	for red, want := range cases {
		env, err := testEngine().Dissolve(DissolveRequest{
			Data: in, InputFormat: "geojson",
			Aggregations: map[string]string{"v": red},
		})
		if err != nil {
			t.Fatalf("Dissolve %s: %v", red, err)
		}
		rows := decodeRows(t, env)
		if got := rows[0].Properties["v"].(float64); got != want {
			t.Fatalf("%s: v=%v want %v", red, got, want)
		}
	}
}

func TestExplode_RowCountIsSumOfParts(t *testing.T) {
	multi, _ := json.Marshal(geom.Geometry{
		Type: geom.TypeMultiPolygon,
		MultiPolygon: [][][]geom.Position{
			{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
			{{{5, 5}, {6, 5}, {6, 6}, {5, 6}, {5, 5}}},
		},
	})
	in := fcJSON(t,
		`{"type":"Feature","properties":{"name":"pair"},"geometry":`+string(multi)+`}`,
		polyFeature(`{"name":"solo"}`, 10, 10, 11, 11),
	)
	env, err := testEngine().Explode(ExplodeRequest{Data: in, InputFormat: "geojson"})
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3", len(rows))
	}
	named := 0
	for _, r := range rows {
		if r.Properties["name"] == "pair" {
			named++
		}
		if r.Geometry.Type != geom.TypePolygon {
			t.Fatalf("part type=%q want Polygon", r.Geometry.Type)
		}
	}
	if named != 2 {
		t.Fatalf("attribute duplication: %d rows named pair, want 2", named)
	}
}

func TestExplode_KeepIndex_RecordsOrigin(t *testing.T) {
	multi, _ := json.Marshal(geom.Geometry{
		Type:       geom.TypeMultiPoint,
		MultiPoint: []geom.Position{{0, 0}, {1, 1}},
	})
	in := fcJSON(t,
		polyFeature(`{}`, 0, 0, 1, 1),
		`{"type":"Feature","properties":{},"geometry":`+string(multi)+`}`,
	)
	env, err := testEngine().Explode(ExplodeRequest{Data: in, InputFormat: "geojson", KeepIndex: true})
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	rows := decodeRows(t, env)
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3", len(rows))
	}
	if rows[0].Properties["source_index"].(float64) != 0 {
		t.Fatalf("first row source_index=%v", rows[0].Properties["source_index"])
	}
	if rows[2].Properties["source_index"].(float64) != 1 {
		t.Fatalf("exploded part source_index=%v want 1", rows[2].Properties["source_index"])
	}
}
