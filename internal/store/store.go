// Package store persists parish records and the per-source run ledger.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/model"
)

// ErrNotFound is returned when a record lookup by ID or key matches nothing.
var ErrNotFound = eris.New("store: record not found")

// ConstraintError reports a write rejected by a uniqueness or check
// constraint. Duplicate identity keys are never silently merged.
type ConstraintError struct {
	Key model.Key
	Err error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("store: constraint violation for %q/%q: %v", e.Key.Name, e.Key.Organization, e.Err)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// IsConstraint reports whether err is or wraps a ConstraintError.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}

// Store defines the persistence interface for the ingest pipeline. Every
// mutating call commits on its own.
type Store interface {
	// Records
	Exists(ctx context.Context, name, organization string) (bool, error)
	Insert(ctx context.Context, rec *model.Record) (int64, error)
	Update(ctx context.Context, id int64, upd model.RecordUpdate) error
	Get(ctx context.Context, id int64) (*model.Record, error)
	GetByKey(ctx context.Context, name, organization string) (*model.Record, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.Record, error)
	Stats(ctx context.Context) (*model.Stats, error)

	// Run ledger (append-only)
	AppendRunLog(ctx context.Context, entry model.RunLedgerEntry) (int64, error)
	ListRunLog(ctx context.Context, filter model.RunLogFilter) ([]model.RunLedgerEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// BulkLoader is implemented by stores that can load many records in one
// round trip. The batch is rejected as a whole on any constraint violation.
type BulkLoader interface {
	BulkInsert(ctx context.Context, recs []model.Record) (int64, error)
}

// Config selects and configures a backend.
type Config struct {
	Driver      string
	DatabaseURL string
	Pool        PoolConfig
}

// Backend names and the default SQLite file.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DefaultDSN     = "parishes.db"
)

// Open creates the backend named by cfg.Driver. An empty driver means SQLite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = DefaultDSN
		}
		return NewSQLite(dsn)
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: postgres requires a database url")
		}
		return NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

// Opener creates a store.
type Opener func(ctx context.Context) (Store, error)

// OpenerFor returns an Opener for a fixed Config.
func OpenerFor(cfg Config) Opener {
	return func(ctx context.Context) (Store, error) {
		return Open(ctx, cfg)
	}
}

// With opens a store, migrates it, runs fn and always closes the store.
// A close error is joined with any error from fn.
func With(ctx context.Context, open Opener, fn func(ctx context.Context, st Store) error) (err error) {
	st, err := open(ctx)
	if err != nil {
		return eris.Wrap(err, "store: open")
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			zap.L().Warn("store: close failed", zap.Error(cerr))
			err = errors.Join(err, eris.Wrap(cerr, "store: close"))
		}
	}()

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return fn(ctx, st)
}

const defaultListLimit = 1000

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// recordColumns is the insert column order shared by both backends.
var recordColumns = []string{
	"name", "organization", "region_label", "country_label",
	"street", "city", "state", "postal_code", "address",
	"phone", "email", "website", "schedule_blob",
	"latitude", "longitude", "source_url", "last_refreshed", "created_at",
}

func recordValues(rec *model.Record) []any {
	return []any{
		rec.Name, rec.Organization, rec.RegionLabel, rec.CountryLabel,
		rec.Street, rec.City, rec.State, rec.PostalCode, rec.Address,
		rec.Phone, rec.Email, rec.Website, rec.Schedule,
		rec.Latitude, rec.Longitude, rec.SourceURL, rec.LastRefreshed, rec.CreatedAt,
	}
}

const selectRecordColumns = `id, name, organization, region_label, country_label,
	street, city, state, postal_code, address, phone, email, website, schedule_blob,
	latitude, longitude, source_url, last_refreshed, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.Record, error) {
	var r model.Record
	err := row.Scan(
		&r.ID, &r.Name, &r.Organization, &r.RegionLabel, &r.CountryLabel,
		&r.Street, &r.City, &r.State, &r.PostalCode, &r.Address,
		&r.Phone, &r.Email, &r.Website, &r.Schedule,
		&r.Latitude, &r.Longitude, &r.SourceURL, &r.LastRefreshed, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const selectRunLogColumns = `id, run_id, organization, status, record_count, error_message, occurred_at`

func scanRunLog(row scannable) (*model.RunLedgerEntry, error) {
	var e model.RunLedgerEntry
	var status string
	if err := row.Scan(&e.ID, &e.RunID, &e.Organization, &status, &e.RecordCount, &e.ErrorMessage, &e.OccurredAt); err != nil {
		return nil, err
	}
	e.Status = model.RunStatus(status)
	return &e, nil
}

func validateEntry(entry model.RunLedgerEntry) error {
	if !entry.Status.Valid() {
		return eris.Errorf("store: invalid run status %q", entry.Status)
	}
	if entry.Organization == "" {
		return eris.New("store: run log entry requires an organization")
	}
	return nil
}

// mergeUpdate applies upd to a copy of rec and validates the result.
func mergeUpdate(rec model.Record, upd model.RecordUpdate) (model.Record, error) {
	if err := upd.Validate(); err != nil {
		return rec, err
	}
	set := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	if upd.RegionLabel != nil {
		rec.RegionLabel = *upd.RegionLabel
	}
	if upd.CountryLabel != nil {
		rec.CountryLabel = *upd.CountryLabel
	}
	set(&rec.Street, upd.Street)
	set(&rec.City, upd.City)
	set(&rec.State, upd.State)
	set(&rec.PostalCode, upd.PostalCode)
	set(&rec.Address, upd.Address)
	set(&rec.Phone, upd.Phone)
	set(&rec.Email, upd.Email)
	set(&rec.Website, upd.Website)
	set(&rec.Schedule, upd.Schedule)
	set(&rec.SourceURL, upd.SourceURL)
	switch {
	case upd.ClearCoordinates:
		rec.Latitude, rec.Longitude = nil, nil
	case upd.Latitude != nil:
		rec.SetCoordinates(*upd.Latitude, *upd.Longitude)
	}
	return rec, rec.Validate()
}

// prepareInsert validates rec and fills its timestamps.
func prepareInsert(rec *model.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastRefreshed == nil {
		rec.LastRefreshed = &now
	}
	return nil
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// placeholders returns "?, ?, ..." for n SQLite parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
