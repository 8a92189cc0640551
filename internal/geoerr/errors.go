// Package geoerr defines the error taxonomy shared by the geodata pipeline.
//
// Validation errors (format, parameter, CRS, style) are raised before any
// geometry computation and are meant for the caller to fix. Failures coming
// out of the geometry kernel are wrapped as ErrProcessing so the dispatch
// layer can tell them apart.
package geoerr

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedFormat     = errors.New("unsupported format")
	ErrMissingParameter      = errors.New("missing required parameter")
	ErrEmptyResult           = errors.New("empty result")
	ErrIncompatibleCRS       = errors.New("incompatible or unknown CRS")
	ErrInvalidStyleParameter = errors.New("invalid style parameter")
	ErrNotFound              = errors.New("not found")

	// ErrProcessing covers geometry-kernel failures (malformed geometry,
	// degenerate topology) that are not usage errors.
	ErrProcessing = errors.New("geoprocessing failed")
)

func UnsupportedFormat(format string) error {
	return fmt.Errorf("%w: %q (want geojson, kml, gpkg or shapefile)", ErrUnsupportedFormat, format)
}

func MissingParameter(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingParameter, name)
}

func EmptyResult(msg string) error {
	return fmt.Errorf("%w: %s", ErrEmptyResult, msg)
}

func IncompatibleCRS(msg string) error {
	return fmt.Errorf("%w: %s", ErrIncompatibleCRS, msg)
}

func InvalidStyleParameter(name, value string) error {
	return fmt.Errorf("%w: %s=%q", ErrInvalidStyleParameter, name, value)
}

func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

func Processing(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrProcessing, err)
}

// IsUsage reports whether err belongs to the validation taxonomy, as opposed
// to a kernel failure or an internal error.
func IsUsage(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrMissingParameter) ||
		errors.Is(err, ErrEmptyResult) ||
		errors.Is(err, ErrIncompatibleCRS) ||
		errors.Is(err, ErrInvalidStyleParameter)
}
