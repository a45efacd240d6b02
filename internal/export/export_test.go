package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/massfinder/parish-ingest/internal/model"
)

func sampleRecords() []model.Record {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	geocoded := model.Record{
		ID:           1,
		Name:         "Cathedral of Christ the King",
		Organization: "Diocese of Lexington",
		RegionLabel:  "KY",
		CountryLabel: "USA",
		City:         model.StringPtr("Lexington"),
		State:        model.StringPtr("KY"),
		Address:      model.StringPtr("299 Colony Blvd, Lexington, KY 40502"),
		Phone:        model.StringPtr("(859) 268-2861"),
		CreatedAt:    created,
	}
	geocoded.SetCoordinates(38.0109, -84.5151)

	bare := model.Record{
		ID:           2,
		Name:         "St. Paul",
		Organization: "Diocese of Lexington",
		RegionLabel:  "KY",
		CountryLabel: "USA",
		CreatedAt:    created,
	}
	return []model.Record{geocoded, bare}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" GeoJSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, f)

	_, err = ParseFormat("kml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestRow(t *testing.T) {
	recs := sampleRecords()
	row := Row(&recs[0])
	require.Len(t, row, len(Columns))
	assert.Equal(t, "1", row[0])
	assert.Equal(t, "Lexington", row[6])
	assert.Equal(t, "", row[5], "absent street renders empty")
	assert.Equal(t, "38.0109", row[14])
	assert.Equal(t, "-84.5151", row[15])
	assert.Equal(t, "2026-03-01T12:00:00Z", row[18])

	bare := Row(&recs[1])
	assert.Equal(t, "", bare[14])
	assert.Equal(t, "", bare[17])
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, sampleRecords()))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "Cathedral of Christ the King", out[0]["name"])
	assert.InDelta(t, 38.0109, out[0]["latitude"], 1e-9)
	assert.NotContains(t, out[1], "latitude")
}

func TestWrite_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.JSONEq(t, "[]", buf.String())
}

func TestWrite_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "299 Colony Blvd, Lexington, KY 40502", rows[1][9])
	assert.Equal(t, "St. Paul", rows[2][1])
}

func TestWrite_XLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleRecords()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	assert.Equal(t, "Parishes", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "name", sheet.Rows[0].Cells[1].String())
	assert.Equal(t, "Cathedral of Christ the King", sheet.Rows[1].Cells[1].String())
}

func TestWrite_GeoJSONSkipsUngeocoded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatGeoJSON, sampleRecords()))

	var fc geojson.FeatureCollection
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fc))
	require.Len(t, fc.Features, 1)

	feat := fc.Features[0]
	assert.Equal(t, "Cathedral of Christ the King", feat.ID)
	coords := feat.Geometry.FlatCoords()
	assert.InDelta(t, -84.5151, coords[0], 1e-9, "longitude first")
	assert.InDelta(t, 38.0109, coords[1], 1e-9)
	assert.Equal(t, "(859) 268-2861", feat.Properties["phone"])
	assert.NotContains(t, feat.Properties, "website")
}

func TestWrite_ShapefileNeedsPath(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorContains(t, Write(&buf, FormatShapefile, sampleRecords()), "needs a file path")
	assert.ErrorContains(t, WriteFile("-", FormatShapefile, sampleRecords()), "stdout")
}

func TestWriteFile_Shapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parishes.shp")
	require.NoError(t, WriteFile(path, FormatShapefile, sampleRecords()))

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close()

	fields := r.Fields()
	require.Len(t, fields, len(shapefileFields))
	assert.Equal(t, "NAME", fields[1].String())

	var n int
	for r.Next() {
		_, shape := r.Shape()
		pt, ok := shape.(*shp.Point)
		require.True(t, ok)
		assert.InDelta(t, -84.5151, pt.X, 1e-9)
		assert.InDelta(t, 38.0109, pt.Y, 1e-9)
		assert.Equal(t, "Cathedral of Christ the King", r.Attribute(1))
		n++
	}
	assert.Equal(t, 1, n, "ungeocoded records are skipped")
}

func TestWriteFile_ShapefileSidecarNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFile(filepath.Join(dir, "parishes"), FormatShapefile, sampleRecords()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"parishes.shp", "parishes.shx", "parishes.dbf"}, names)
}

func TestWriteFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, WriteFile(path, FormatCSV, sampleRecords()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cathedral of Christ the King")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "Mari", truncate("Marié", 5), "never splits a rune")
}
