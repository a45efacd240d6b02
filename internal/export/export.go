// Package export writes stored records as JSON, CSV, XLSX, GeoJSON or an
// ESRI shapefile.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/massfinder/parish-ingest/internal/model"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON      Format = "json"
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatGeoJSON   Format = "geojson"
	FormatShapefile Format = "shp"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatXLSX, FormatGeoJSON, FormatShapefile}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("export: unknown format %q", s)
}

// Columns is the flat column order used by CSV and XLSX output.
var Columns = []string{
	"id", "name", "organization", "region_label", "country_label",
	"street", "city", "state", "postal_code", "address",
	"phone", "email", "website", "schedule_blob",
	"latitude", "longitude", "source_url", "last_refreshed", "created_at",
}

// Row flattens a record into strings in Columns order. Absent values are "".
func Row(rec *model.Record) []string {
	return []string{
		strconv.FormatInt(rec.ID, 10), rec.Name, rec.Organization, rec.RegionLabel, rec.CountryLabel,
		model.Deref(rec.Street), model.Deref(rec.City), model.Deref(rec.State), model.Deref(rec.PostalCode), model.Deref(rec.Address),
		model.Deref(rec.Phone), model.Deref(rec.Email), model.Deref(rec.Website), model.Deref(rec.Schedule),
		formatFloat(rec.Latitude), formatFloat(rec.Longitude), model.Deref(rec.SourceURL),
		formatTime(rec.LastRefreshed), formatTime(&rec.CreatedAt),
	}
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Write encodes recs to w. The shapefile format needs a path; use WriteFile.
func Write(w io.Writer, format Format, recs []model.Record) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, recs)
	case FormatCSV:
		return writeCSV(w, recs)
	case FormatXLSX:
		return writeXLSX(w, recs)
	case FormatGeoJSON:
		return writeGeoJSON(w, recs)
	case FormatShapefile:
		return eris.New("export: shapefile output needs a file path")
	default:
		return eris.Errorf("export: unknown format %q", format)
	}
}

// WriteFile encodes recs to path, or to stdout when path is "-".
func WriteFile(path string, format Format, recs []model.Record) error {
	if format == FormatShapefile {
		if path == "-" {
			return eris.New("export: shapefile output cannot go to stdout")
		}
		return writeShapefile(path, recs)
	}
	if path == "-" {
		return Write(os.Stdout, format, recs)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := Write(f, format, recs); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

func writeJSON(w io.Writer, recs []model.Record) error {
	if recs == nil {
		recs = []model.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(recs), "export: encode json")
}

func writeCSV(w io.Writer, recs []model.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range recs {
		if err := cw.Write(Row(&recs[i])); err != nil {
			return eris.Wrapf(err, "export: write csv row %d", i)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func writeXLSX(w io.Writer, recs []model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Parishes")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	addRow := func(values []string) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	addRow(Columns)
	for i := range recs {
		addRow(Row(&recs[i]))
	}
	return eris.Wrap(f.Write(w), "export: write xlsx")
}
