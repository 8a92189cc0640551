package geocodec

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/openterra/geodata-tools/internal/core/model"
	"github.com/openterra/geodata-tools/internal/geoerr"
	"github.com/openterra/geodata-tools/internal/geom"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300
	gpkgDefaultTable  = "features"
	gpkgGeomColumn    = "geom"
)

// loadGPKG reads the first feature table of a GeoPackage. SQLite wants a
// file, so the payload goes through a temp file.
func loadGPKG(raw []byte) (model.FeatureCollection, error) {
	path, cleanup, err := tempFile("geodata-*.gpkg", raw)
	if err != nil {
		return model.FeatureCollection{}, err
	}
	defer cleanup()

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("open gpkg: %w", err))
	}
	defer db.Close()

	var table, column string
	var srsID int
	err = db.QueryRow(
		`SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns LIMIT 1`,
	).Scan(&table, &column, &srsID)
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("read gpkg_geometry_columns: %w", err))
	}

	rows, err := db.Query(fmt.Sprintf(`SELECT * FROM %q`, table))
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(fmt.Errorf("read gpkg table %s: %w", table, err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return model.FeatureCollection{}, geoerr.Processing(err)
	}

	fc := model.FeatureCollection{EPSG: srsID}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return model.FeatureCollection{}, geoerr.Processing(err)
		}

		row := model.Row{Attrs: map[string]any{}}
		for i, name := range cols {
			if strings.EqualFold(name, column) {
				blob, _ := vals[i].([]byte)
				if len(blob) == 0 {
					continue
				}
				g, err := parseGPKGBlob(blob)
				if err != nil {
					return model.FeatureCollection{}, geoerr.Processing(err)
				}
				row.Geom = g
				continue
			}
			if strings.EqualFold(name, "fid") {
				continue
			}
			row.Attrs[name] = sqliteValue(vals[i])
		}
		fc.Rows = append(fc.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.FeatureCollection{}, geoerr.Processing(err)
	}
	return fc, nil
}

func sqliteValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int64:
		return t
	default:
		return v
	}
}

// parseGPKGBlob strips the GeoPackage binary header ("GP" magic, flags,
// srs_id, optional envelope) and decodes the trailing WKB.
func parseGPKGBlob(blob []byte) (geom.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return geom.Geometry{}, fmt.Errorf("gpkg: geometry blob missing GP header")
	}
	flags := blob[3]
	if flags&0x20 != 0 { // empty geometry flag
		return geom.Geometry{}, nil
	}
	envSize := 0
	switch (flags >> 1) & 0x07 {
	case 0:
		envSize = 0
	case 1:
		envSize = 32
	case 2, 3:
		envSize = 48
	case 4:
		envSize = 64
	default:
		return geom.Geometry{}, fmt.Errorf("gpkg: invalid envelope indicator")
	}
	offset := 8 + envSize
	if len(blob) < offset {
		return geom.Geometry{}, fmt.Errorf("gpkg: truncated geometry blob")
	}
	return unmarshalWKB(blob[offset:])
}

func gpkgBlob(g geom.Geometry, srsID int) ([]byte, error) {
	wkb, err := marshalWKB(g)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 8)
	header[0], header[1] = 'G', 'P'
	header[2] = 0    // version
	header[3] = 0x01 // little endian, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(int32(srsID)))
	return append(header, wkb...), nil
}

func dumpGPKG(fc model.FeatureCollection) ([]byte, error) {
	path, cleanup, err := tempFile("geodata-*.gpkg", nil)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, geoerr.Processing(fmt.Errorf("create gpkg: %w", err))
	}

	srsID := fc.EPSG
	geomType := gpkgGeometryType(fc.Rows)
	cols := attributeColumns(fc.Rows)

	stmts := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		`CREATE TABLE gpkg_spatial_ref_sys (
			srs_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL PRIMARY KEY,
			organization TEXT NOT NULL,
			organization_coordsys_id INTEGER NOT NULL,
			definition TEXT NOT NULL,
			description TEXT
		)`,
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT UNIQUE,
			description TEXT DEFAULT '',
			last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
			srs_id INTEGER,
			CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL,
			CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, geoerr.Processing(fmt.Errorf("init gpkg schema: %w", err))
		}
	}

	if _, err := db.Exec(
		`INSERT INTO gpkg_spatial_ref_sys VALUES (?, ?, 'EPSG', ?, 'undefined', NULL),
			('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian'),
			('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic')`,
		fmt.Sprintf("EPSG:%d", srsID), srsID, srsID,
	); err != nil {
		db.Close()
		return nil, geoerr.Processing(fmt.Errorf("write gpkg_spatial_ref_sys: %w", err))
	}
	if _, err := db.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id) VALUES (?, 'features', ?, ?)`,
		gpkgDefaultTable, gpkgDefaultTable, srsID,
	); err != nil {
		db.Close()
		return nil, geoerr.Processing(fmt.Errorf("write gpkg_contents: %w", err))
	}
	if _, err := db.Exec(
		`INSERT INTO gpkg_geometry_columns VALUES (?, ?, ?, ?, 0, 0)`,
		gpkgDefaultTable, gpkgGeomColumn, geomType, srsID,
	); err != nil {
		db.Close()
		return nil, geoerr.Processing(fmt.Errorf("write gpkg_geometry_columns: %w", err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %q (fid INTEGER PRIMARY KEY AUTOINCREMENT, %q BLOB", gpkgDefaultTable, gpkgGeomColumn)
	for _, c := range cols {
		fmt.Fprintf(&b, ", %q %s", c, sqliteType(columnKind(fc.Rows, c)))
	}
	b.WriteString(")")
	if _, err := db.Exec(b.String()); err != nil {
		db.Close()
		return nil, geoerr.Processing(fmt.Errorf("create gpkg feature table: %w", err))
	}

	placeholders := make([]string, 0, len(cols)+1)
	names := make([]string, 0, len(cols)+1)
	names = append(names, fmt.Sprintf("%q", gpkgGeomColumn))
	placeholders = append(placeholders, "?")
	for _, c := range cols {
		names = append(names, fmt.Sprintf("%q", c))
		placeholders = append(placeholders, "?")
	}
	insert := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		gpkgDefaultTable, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, geoerr.Processing(err)
	}
	for _, row := range fc.Rows {
		blob, err := gpkgBlob(row.Geom, srsID)
		if err != nil {
			tx.Rollback()
			db.Close()
			return nil, geoerr.Processing(err)
		}
		args := make([]any, 0, len(cols)+1)
		args = append(args, blob)
		for _, c := range cols {
			args = append(args, row.Attrs[c])
		}
		if _, err := tx.Exec(insert, args...); err != nil {
			tx.Rollback()
			db.Close()
			return nil, geoerr.Processing(fmt.Errorf("write gpkg feature: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, geoerr.Processing(err)
	}
	if err := db.Close(); err != nil {
		return nil, geoerr.Processing(err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, geoerr.Processing(err)
	}
	return out, nil
}

func sqliteType(kind string) string {
	switch kind {
	case "real":
		return "REAL"
	case "integer", "bool":
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// gpkgGeometryType picks the declared type for gpkg_geometry_columns: the
// shared concrete type when the collection is homogeneous, GEOMETRY otherwise.
func gpkgGeometryType(rows []model.Row) string {
	first := ""
	for _, r := range rows {
		t := strings.ToUpper(r.Geom.Type)
		if first == "" {
			first = t
		} else if first != t {
			return "GEOMETRY"
		}
	}
	if first == "" {
		return "GEOMETRY"
	}
	return first
}

func tempFile(pattern string, content []byte) (string, func(), error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, geoerr.Processing(fmt.Errorf("create temp file: %w", err))
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if len(content) > 0 {
		if _, err := f.Write(content); err != nil {
			f.Close()
			cleanup()
			return "", nil, geoerr.Processing(err)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, geoerr.Processing(err)
	}
	return path, cleanup, nil
}
