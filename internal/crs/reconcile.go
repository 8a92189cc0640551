package crs

import (
	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
)

// Reconcile brings two collections onto one CRS before a binary operation.
//
// The rule is an order-sensitive contract callers depend on:
//   - target given: both reprojected to it;
//   - both known and equal: unchanged;
//   - both known but different: b is reprojected to a's CRS (the first
//     argument is authoritative);
//   - either unknown: IncompatibleCRS — the caller must supply source_crs on
//     load or a target_crs here.
func Reconcile(a, b model.FeatureCollection, target int) (model.FeatureCollection, model.FeatureCollection, error) {
	if target != Unknown {
		ra, err := Reproject(a, target)
		if err != nil {
			return a, b, err
		}
		rb, err := Reproject(b, target)
		if err != nil {
			return a, b, err
		}
		return ra, rb, nil
	}

	if a.EPSG != Unknown && b.EPSG != Unknown {
		if a.EPSG == b.EPSG {
			return a, b, nil
		}
		rb, err := Reproject(b, a.EPSG)
		if err != nil {
			return a, b, err
		}
		return a, rb, nil
	}

	return a, b, geoerr.IncompatibleCRS(
		"both inputs need a known CRS; supply source_crs for each input or a target_crs")
}
