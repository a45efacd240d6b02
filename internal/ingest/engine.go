// Package ingest runs the per-source pipeline: extract candidates, skip
// known records, normalize and geocode addresses, insert, and append one
// run-ledger entry per source.
package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/address"
	"github.com/massfinder/parish-ingest/internal/extract"
	"github.com/massfinder/parish-ingest/internal/metrics"
	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/pkg/geocode"
)

// Ledger messages for sources that produce nothing to process.
const (
	MsgNoExtractor = "no extractor available"
	MsgNoRecords   = "no records found"
)

// RecordStore is the subset of store.Store the engine writes through.
type RecordStore interface {
	Exists(ctx context.Context, name, organization string) (bool, error)
	Insert(ctx context.Context, rec *model.Record) (int64, error)
	AppendRunLog(ctx context.Context, entry model.RunLedgerEntry) (int64, error)
}

// Resolver turns an address into coordinates. Failures degrade to false.
type Resolver interface {
	Resolve(ctx context.Context, q geocode.Query) (geocode.Coordinate, bool)
}

// SourceResult is the tally for one source.
type SourceResult struct {
	Organization string          `json:"organization"`
	Status       model.RunStatus `json:"status"`
	Accepted     int             `json:"accepted"`
	Skipped      int             `json:"skipped"`
	Invalid      int             `json:"invalid"`
	Failed       int             `json:"failed"`
	Geocoded     int             `json:"geocoded"`
	Err          string          `json:"error,omitempty"`
	Elapsed      time.Duration   `json:"elapsed"`
}

// RunSummary collects the results of one Run.
type RunSummary struct {
	RunID    string         `json:"run_id"`
	Sources  []SourceResult `json:"sources"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
}

// Succeeded returns the number of sources logged as success.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, r := range s.Sources {
		if r.Status == model.RunStatusSuccess {
			n++
		}
	}
	return n
}

// FailedSources returns the organizations logged as failed, in run order.
func (s *RunSummary) FailedSources() []string {
	var out []string
	for _, r := range s.Sources {
		if r.Status == model.RunStatusFailed {
			out = append(out, r.Organization)
		}
	}
	return out
}

// Accepted returns the total number of inserted records.
func (s *RunSummary) Accepted() int {
	n := 0
	for _, r := range s.Sources {
		n += r.Accepted
	}
	return n
}

// Engine orchestrates ingest runs. It is not safe for concurrent Runs.
type Engine struct {
	reg      *extract.Registry
	store    RecordStore
	resolver Resolver
	rec      metrics.Recorder
	newRunID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports outcomes to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(e *Engine) { e.rec = rec }
}

// WithRunID overrides run ID generation.
func WithRunID(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// NewEngine creates an ingest engine. A nil resolver disables geocoding.
func NewEngine(reg *extract.Registry, st RecordStore, res Resolver, opts ...Option) *Engine {
	e := &Engine{
		reg:      reg,
		store:    st,
		resolver: res,
		rec:      (*metrics.Registry)(nil),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes sources strictly in order. A failed source never stops the
// run; the only error returned is ctx cancellation observed before a source
// starts, in which case the remaining sources are not attempted.
func (e *Engine) Run(ctx context.Context, sources []model.Source) (*RunSummary, error) {
	runID := e.newRunID()
	log := zap.L().With(zap.String("component", "ingest.engine"), zap.String("run_id", runID))

	summary := &RunSummary{RunID: runID, Started: time.Now().UTC()}
	log.Info("starting run", zap.Int("sources", len(sources)))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			summary.Finished = time.Now().UTC()
			log.Warn("run cancelled", zap.Int("remaining", len(sources)-len(summary.Sources)))
			return summary, eris.Wrap(err, "ingest: run cancelled")
		}
		summary.Sources = append(summary.Sources, e.RunSource(ctx, runID, src))
	}

	summary.Finished = time.Now().UTC()
	e.rec.RunFinished(summary.Finished.Sub(summary.Started))
	log.Info("run complete",
		zap.Int("succeeded", summary.Succeeded()),
		zap.Int("failed", len(summary.FailedSources())),
		zap.Int("accepted", summary.Accepted()),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	return summary, nil
}

// RunSource ingests one source and appends exactly one ledger entry for it.
// Panics during extraction or the record loop are recovered and logged as a
// failed source.
func (e *Engine) RunSource(ctx context.Context, runID string, src model.Source) SourceResult {
	log := zap.L().With(
		zap.String("component", "ingest.engine"),
		zap.String("run_id", runID),
		zap.String("organization", src.Name),
	)
	start := time.Now()
	res := SourceResult{Organization: src.Name}

	err := e.safeProcess(ctx, src, &res, log)
	res.Elapsed = time.Since(start)

	entry := model.RunLedgerEntry{
		RunID:        runID,
		Organization: src.Name,
		RecordCount:  res.Accepted,
	}
	if err != nil {
		res.Status = model.RunStatusFailed
		res.Err = err.Error()
		entry.Status = model.RunStatusFailed
		entry.ErrorMessage = &res.Err
		log.Error("source failed", zap.String("reason", res.Err), zap.Duration("elapsed", res.Elapsed))
	} else {
		res.Status = model.RunStatusSuccess
		entry.Status = model.RunStatusSuccess
		log.Info("source complete",
			zap.Int("accepted", res.Accepted),
			zap.Int("skipped", res.Skipped),
			zap.Int("invalid", res.Invalid),
			zap.Int("failed", res.Failed),
			zap.Int("geocoded", res.Geocoded),
			zap.Duration("elapsed", res.Elapsed),
		)
	}

	// The ledger write must land even when the run is being cancelled.
	if _, lerr := e.store.AppendRunLog(context.WithoutCancel(ctx), entry); lerr != nil {
		log.Error("failed to append run log", zap.Error(lerr))
	}
	e.rec.SourceFinished(string(res.Status))
	return res
}

// safeProcess converts a panic into an error.
func (e *Engine) safeProcess(ctx context.Context, src model.Source, res *SourceResult, log *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("recovered panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return e.process(ctx, src, res, log)
}

func (e *Engine) process(ctx context.Context, src model.Source, res *SourceResult, log *zap.Logger) error {
	ext, err := e.reg.Get(src.ExtractorID)
	if err != nil {
		log.Warn("no extractor", zap.String("extractor", src.ExtractorID))
		return eris.New(MsgNoExtractor)
	}

	log.Info("extracting", zap.String("extractor", ext.Name()), zap.String("endpoint", src.Endpoint))
	cands, err := ext.Scrape(ctx, src)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		return eris.New(MsgNoRecords)
	}
	log.Info("extracted candidates", zap.Int("count", len(cands)))

	for i := range cands {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "ingest: cancelled after %d of %d candidates", i, len(cands))
		}
		e.processCandidate(ctx, src, cands[i], res, log)
	}
	return nil
}

func (e *Engine) processCandidate(ctx context.Context, src model.Source, c model.RawCandidate, res *SourceResult, log *zap.Logger) {
	if !c.Valid() {
		res.Invalid++
		e.rec.RecordOutcome(src.Name, metrics.OutcomeInvalid)
		log.Debug("invalid candidate", zap.String("source_url", model.Deref(c.SourceURL)))
		return
	}

	exists, err := e.store.Exists(ctx, c.Name, src.Name)
	if err != nil {
		res.Failed++
		e.rec.RecordOutcome(src.Name, metrics.OutcomeFailed)
		log.Error("exists check failed", zap.String("name", c.Name), zap.Error(err))
		return
	}
	if exists {
		res.Skipped++
		e.rec.RecordOutcome(src.Name, metrics.OutcomeSkipped)
		log.Debug("skipped existing", zap.String("name", c.Name))
		return
	}

	rec := BuildRecord(src, c)
	if c.HasAddress() && e.resolver != nil {
		if coord, ok := e.resolver.Resolve(ctx, QueryFor(rec)); ok {
			rec.SetCoordinates(coord.Latitude, coord.Longitude)
			res.Geocoded++
			log.Debug("geocoded", zap.String("name", rec.Name),
				zap.Float64("lat", coord.Latitude), zap.Float64("lon", coord.Longitude))
		} else {
			log.Info("could not geocode", zap.String("name", rec.Name), zap.String("address", model.Deref(rec.Address)))
		}
	}

	if _, err := e.store.Insert(ctx, rec); err != nil {
		res.Failed++
		e.rec.RecordOutcome(src.Name, metrics.OutcomeFailed)
		log.Error("insert failed", zap.String("name", rec.Name), zap.Error(err))
		return
	}
	res.Accepted++
	e.rec.RecordOutcome(src.Name, metrics.OutcomeAccepted)
}

// BuildRecord maps a candidate onto a record for src. Address text is
// normalized with the candidate's own city/state/postal code as hints, and
// the source region as the fallback state.
func BuildRecord(src model.Source, c model.RawCandidate) *model.Record {
	rec := &model.Record{
		Name:         c.Name,
		Organization: src.Name,
		RegionLabel:  src.Region,
		CountryLabel: src.CountryOrDefault(),
		Phone:        c.Phone,
		Email:        c.Email,
		Website:      c.Website,
		Schedule:     c.MassTimes,
		SourceURL:    c.SourceURL,
	}
	if rec.SourceURL == nil {
		rec.SourceURL = model.StringPtr(src.Endpoint)
	}

	state := model.Deref(c.State)
	if state == "" {
		state = src.Region
	}
	hints := address.Hints{
		City:       model.Deref(c.City),
		State:      state,
		PostalCode: model.Deref(c.PostalCode),
	}
	if c.HasAddress() {
		text := address.CleanText(*c.Address)
		rec.Address = &text
		rec.ApplyAddress(address.Parse(text, hints))
	} else {
		rec.ApplyAddress(address.Parse("", hints))
	}
	return rec
}

// QueryFor builds a geocode query from a record's parsed address. Without a
// parsed street the whole address text is sent as a single line.
func QueryFor(rec *model.Record) geocode.Query {
	if strings.TrimSpace(model.Deref(rec.Street)) == "" {
		return geocode.Query{Street: model.Deref(rec.Address)}
	}
	return geocode.Query{
		Street:     model.Deref(rec.Street),
		City:       model.Deref(rec.City),
		State:      model.Deref(rec.State),
		PostalCode: model.Deref(rec.PostalCode),
	}
}
