package geocodec

import (
	"sort"

	"github.com/samber/lo"

	"github.com/openterra/geodata-tools/internal/core/model"
)

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}

// attributeColumns returns the sorted union of attribute names across rows.
// Table-shaped formats (GeoPackage, Shapefile) need a fixed column set.
func attributeColumns(rows []model.Row) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, r := range rows {
		for k := range r.Attrs {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// columnKind classifies a column by its first non-nil value: "real",
// "integer", "bool" or "text".
func columnKind(rows []model.Row, col string) string {
	for _, r := range rows {
		switch r.Attrs[col].(type) {
		case nil:
			continue
		case float64, float32:
			return "real"
		case int, int32, int64:
			return "integer"
		case bool:
			return "bool"
		default:
			return "text"
		}
	}
	return "text"
}
