// Package geocodec converts between wire geodata payloads and the in-memory
// feature collection across four formats: GeoJSON and KML as UTF-8 text,
// GeoPackage and zipped Shapefile as base64 binary.
package geocodec

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/crs"
	"github.com/openterra/geodata-tools/internal/geoerr"
)

const (
	FormatGeoJSON   = "geojson"
	FormatKML       = "kml"
	FormatGPKG      = "gpkg"
	FormatShapefile = "shapefile"

	DefaultFormat = FormatGeoJSON
)

// NormalizeFormat lower-cases the format and resolves the "json" alias.
func NormalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "json" {
		f = FormatGeoJSON
	}
	switch f {
	case FormatGeoJSON, FormatKML, FormatGPKG, FormatShapefile:
		return f, nil
	case "":
		return "", geoerr.MissingParameter("format")
	default:
		return "", geoerr.UnsupportedFormat(format)
	}
}

func IsBinary(format string) bool {
	return format == FormatGPKG || format == FormatShapefile
}

// Load decodes a payload into a feature collection. Rows with null or empty
// geometries are dropped; an all-empty collection is an error. A non-empty
// sourceCRS overrides whatever CRS the payload declares, letting callers
// correct misdeclared inputs.
func Load(data, format, sourceCRS string) (model.FeatureCollection, error) {
	fmtName, err := NormalizeFormat(format)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	if data == "" {
		return model.FeatureCollection{}, geoerr.MissingParameter("data")
	}

	var fc model.FeatureCollection
	switch fmtName {
	case FormatGeoJSON:
		fc, err = loadGeoJSON([]byte(data))
	case FormatKML:
		fc, err = loadKML([]byte(data))
	case FormatGPKG, FormatShapefile:
		var raw []byte
		raw, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("decode base64 %s payload: %w", fmtName, err))
		}
		if fmtName == FormatGPKG {
			fc, err = loadGPKG(raw)
		} else {
			fc, err = loadShapefile(raw)
		}
	}
	if err != nil {
		return model.FeatureCollection{}, err
	}

	fc.Rows = dropEmptyGeoms(fc.Rows)
	if len(fc.Rows) == 0 {
		return model.FeatureCollection{}, geoerr.EmptyResult("the input contains no usable features")
	}

	if sourceCRS != "" {
		code, err := crs.Parse(sourceCRS)
		if err != nil {
			return model.FeatureCollection{}, err
		}
		fc.EPSG = code
	}
	return fc, nil
}

// Dump encodes a collection into an envelope; format defaults to geojson.
// An empty collection is an error, not an empty success.
func Dump(fc model.FeatureCollection, format string) (model.Envelope, error) {
	if format == "" {
		format = DefaultFormat
	}
	fmtName, err := NormalizeFormat(format)
	if err != nil {
		return model.Envelope{}, err
	}

	fc.Rows = dropEmptyGeoms(fc.Rows)
	if len(fc.Rows) == 0 {
		return model.Envelope{}, geoerr.EmptyResult("the operation produced no features")
	}

	env := model.Envelope{
		Format:   fmtName,
		Encoding: model.EncodingUTF8,
		CRS:      crs.String(fc.EPSG),
	}
	var payload []byte
	switch fmtName {
	case FormatGeoJSON:
		payload, err = dumpGeoJSON(fc)
	case FormatKML:
		payload, err = dumpKML(fc)
	case FormatGPKG:
		payload, err = dumpGPKG(fc)
	case FormatShapefile:
		payload, err = dumpShapefile(fc)
	}
	if err != nil {
		return model.Envelope{}, err
	}

	if IsBinary(fmtName) {
		env.Encoding = model.EncodingBase64
		env.Data = base64.StdEncoding.EncodeToString(payload)
	} else {
		env.Data = string(payload)
	}
	return env, nil
}

func dropEmptyGeoms(rows []model.Row) []model.Row {
	out := rows[:0]
	for _, r := range rows {
		if !r.Geom.IsEmpty() {
			out = append(out, r)
		}
	}
	return out
}
