package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/massfinder/parish-ingest/internal/model"
)

// Geographic formats include only records with coordinates.

// FeatureCollection builds a GeoJSON collection of points, one per
// geocoded record.
func FeatureCollection(recs []model.Record) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for i := range recs {
		rec := &recs[i]
		if !rec.HasCoordinates() {
			continue
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         rec.Name,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{*rec.Longitude, *rec.Latitude}),
			Properties: properties(rec),
		})
	}
	return fc
}

func properties(rec *model.Record) map[string]any {
	props := map[string]any{
		"id":           rec.ID,
		"name":         rec.Name,
		"organization": rec.Organization,
		"region_label": rec.RegionLabel,
	}
	for k, v := range map[string]*string{
		"address":       rec.Address,
		"city":          rec.City,
		"state":         rec.State,
		"postal_code":   rec.PostalCode,
		"phone":         rec.Phone,
		"email":         rec.Email,
		"website":       rec.Website,
		"schedule_blob": rec.Schedule,
		"source_url":    rec.SourceURL,
	} {
		if v != nil {
			props[k] = *v
		}
	}
	return props
}

func writeGeoJSON(w io.Writer, recs []model.Record) error {
	data, err := json.Marshal(FeatureCollection(recs))
	if err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "export: write geojson")
}

// shapefileFields are the DBF attribute columns. dBase limits names to ten
// characters and strings to 254 bytes.
var shapefileFields = []shp.Field{
	shp.NumberField("ID", 10),
	shp.StringField("NAME", 254),
	shp.StringField("ORG", 254),
	shp.StringField("ADDRESS", 254),
	shp.StringField("CITY", 64),
	shp.StringField("STATE", 8),
	shp.StringField("ZIP", 10),
	shp.StringField("PHONE", 32),
	shp.StringField("WEBSITE", 254),
}

// writeShapefile writes path (and its .shx and .dbf siblings). go-shp names
// the attribute table "<base>dbf", so it is renamed once the writer closes.
func writeShapefile(path string, recs []model.Record) error {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}
	base := path[:len(path)-len(".shp")]

	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	if err := w.SetFields(shapefileFields); err != nil {
		return eris.Wrap(err, "export: set shapefile fields")
	}

	for i := range recs {
		rec := &recs[i]
		if !rec.HasCoordinates() {
			continue
		}
		n := int(w.Write(&shp.Point{X: *rec.Longitude, Y: *rec.Latitude}))
		attrs := []any{
			int(rec.ID), truncate(rec.Name, 254), truncate(rec.Organization, 254),
			truncate(model.Deref(rec.Address), 254), truncate(model.Deref(rec.City), 64),
			truncate(model.Deref(rec.State), 8), truncate(model.Deref(rec.PostalCode), 10),
			truncate(model.Deref(rec.Phone), 32), truncate(model.Deref(rec.Website), 254),
		}
		for field, v := range attrs {
			if err := w.WriteAttribute(n, field, v); err != nil {
				return eris.Wrapf(err, "export: write attribute %d of %s", field, rec.Name)
			}
		}
	}

	w.Close()
	closed = true
	return fixDBFName(base)
}

// fixDBFName moves "<base>dbf" to "<base>.dbf" when go-shp left it undotted.
func fixDBFName(base string) error {
	misnamed := base + "dbf"
	if _, err := os.Stat(misnamed); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrapf(err, "export: stat %s", misnamed)
	}
	if err := os.Rename(misnamed, base+".dbf"); err != nil {
		return eris.Wrapf(err, "export: rename %s", misnamed)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
