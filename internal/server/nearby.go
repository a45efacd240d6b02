package server

import (
	"math"
	"sort"

	"github.com/massfinder/parish-ingest/internal/model"
)

const earthRadiusMiles = 3959.0

// DistanceMiles is the great-circle distance between two points.
func DistanceMiles(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Nearby returns geocoded records strictly within radius miles of the
// point, nearest first, at most limit of them.
func Nearby(recs []model.Record, lat, lng, radius float64, limit int) []Parish {
	out := []Parish{}
	for i := range recs {
		rec := &recs[i]
		if !rec.HasCoordinates() {
			continue
		}
		d := DistanceMiles(lat, lng, *rec.Latitude, *rec.Longitude)
		if d >= radius {
			continue
		}
		p := toParish(rec)
		p.Distance = &d
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Distance < *out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func validPoint(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
