// Package server exposes stored parishes over a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

// Reader is the slice of the store the API needs.
type Reader interface {
	Get(ctx context.Context, id int64) (*model.Record, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.Record, error)
	Stats(ctx context.Context) (*model.Stats, error)
	ListRunLog(ctx context.Context, filter model.RunLogFilter) ([]model.RunLedgerEntry, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// Metrics, when set, is served at /metrics.
	Metrics prometheus.Gatherer
}

const (
	defaultRadiusMiles = 25
	maxResults         = 100
	maxListLimit       = 1000
	// nearbyScanLimit bounds how many geocoded rows a radius search reads.
	nearbyScanLimit = 100000
)

// Server serves the read API.
type Server struct {
	reader Reader
	opts   Options
	log    *zap.Logger
}

// New creates a Server.
func New(reader Reader, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		reader: reader,
		opts:   opts,
		log:    zap.L().With(zap.String("component", "server")),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/parishes", s.handleParishes)
	r.Get("/parishes/{id}", s.handleParish)
	r.Get("/stats", s.handleStats)
	r.Get("/runs", s.handleRuns)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Parish is the API shape of a record.
type Parish struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Diocese       string   `json:"diocese"`
	Address       *string  `json:"address"`
	City          *string  `json:"city"`
	State         *string  `json:"state"`
	Zip           *string  `json:"zip"`
	Country       string   `json:"country"`
	Phone         *string  `json:"phone"`
	Website       *string  `json:"website"`
	Email         *string  `json:"email"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
	Distance      *float64 `json:"distance,omitempty"`
	MassTimesText *string  `json:"massTimesText"`
}

func toParish(rec *model.Record) Parish {
	return Parish{
		ID:            rec.ID,
		Name:          rec.Name,
		Diocese:       rec.Organization,
		Address:       rec.Address,
		City:          rec.City,
		State:         rec.State,
		Zip:           rec.PostalCode,
		Country:       rec.CountryLabel,
		Phone:         rec.Phone,
		Website:       rec.Website,
		Email:         rec.Email,
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		MassTimesText: rec.Schedule,
	}
}

func (s *Server) handleParishes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lng := q.Get("lat"), q.Get("lng")
	if lat != "" || lng != "" {
		s.handleNearby(w, r, lat, lng, q.Get("radius"))
		return
	}

	filter := model.RecordFilter{
		Organization: q.Get("organization"),
		State:        strings.ToUpper(q.Get("state")),
	}
	if filter.Organization == "" && filter.State == "" {
		writeError(w, http.StatusBadRequest, "Missing lat or lng parameters")
		return
	}
	limit, err := parseLimit(q.Get("limit"), maxResults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.Limit = limit

	recs, err := s.reader.ListRecords(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list parishes", err)
		return
	}
	out := make([]Parish, 0, len(recs))
	for i := range recs {
		out = append(out, toParish(&recs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request, latStr, lngStr, radiusStr string) {
	if latStr == "" || lngStr == "" {
		writeError(w, http.StatusBadRequest, "Missing lat or lng parameters")
		return
	}
	if radiusStr == "" {
		radiusStr = strconv.Itoa(defaultRadiusMiles)
	}
	lat, err1 := strconv.ParseFloat(latStr, 64)
	lng, err2 := strconv.ParseFloat(lngStr, 64)
	radius, err3 := strconv.ParseFloat(radiusStr, 64)
	if err1 != nil || err2 != nil || err3 != nil || radius <= 0 || !validPoint(lat, lng) {
		writeError(w, http.StatusBadRequest, "Invalid lat, lng, or radius")
		return
	}

	recs, err := s.reader.ListRecords(r.Context(), model.RecordFilter{HasCoordinates: true, Limit: nearbyScanLimit})
	if err != nil {
		s.internalError(w, "nearby parishes", err)
		return
	}
	writeJSON(w, http.StatusOK, Nearby(recs, lat, lng, radius, maxResults))
}

func (s *Server) handleParish(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	rec, err := s.reader.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Parish not found")
		return
	}
	if err != nil {
		s.internalError(w, "get parish", err)
		return
	}
	writeJSON(w, http.StatusOK, toParish(rec))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.reader.Stats(r.Context())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.reader.ListRunLog(r.Context(), model.RunLogFilter{
		Organization: q.Get("organization"),
		RunID:        q.Get("run_id"),
		Limit:        limit,
	})
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	if entries == nil {
		entries = []model.RunLedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.log.Error("server: "+action+" failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Internal server error",
		"message": err.Error(),
	})
}

func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errors.New("Invalid limit")
	}
	return min(n, maxListLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
