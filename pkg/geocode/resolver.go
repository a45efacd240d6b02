package geocode

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/address"
	"github.com/massfinder/parish-ingest/internal/resilience"
)

// Resolution outcomes reported to an Observer.
const (
	ResultHit      = "hit"
	ResultResolved = "resolved"
	ResultNotFound = "not_found"
	ResultFailed   = "failed"
	ResultInvalid  = "invalid"
)

// Defaults for a Resolver.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 2 * time.Second
	DefaultRequestDelay   = time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Stats counts resolver activity since creation.
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Lookups  int64 `json:"lookups"`
	Failures int64 `json:"failures"`
}

// Resolver turns addresses into coordinates. It never returns an error:
// every failure mode yields an absent coordinate.
type Resolver struct {
	lookup         Lookup
	cache          *Cache
	maxRetries     int
	retryBackoff   time.Duration
	requestDelay   time.Duration
	requestTimeout time.Duration
	validateState  bool
	observe        func(result string)

	hits, misses, lookups, failures atomic.Int64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxRetries sets the total number of lookup attempts per address.
func WithMaxRetries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the fixed pause between failed attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Resolver) { r.retryBackoff = d }
}

// WithRequestDelay sets the courtesy pause after each successful service call.
func WithRequestDelay(d time.Duration) Option {
	return func(r *Resolver) { r.requestDelay = d }
}

// WithRequestTimeout bounds each individual lookup attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.requestTimeout = d
		}
	}
}

// WithValidateState toggles the state cross-check against the service's
// display name. A mismatch is only logged.
func WithValidateState(v bool) Option {
	return func(r *Resolver) { r.validateState = v }
}

// WithObserver registers a callback invoked once per Resolve with its outcome.
func WithObserver(fn func(result string)) Option {
	return func(r *Resolver) { r.observe = fn }
}

// WithCache shares a cache between resolvers.
func WithCache(c *Cache) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup Lookup, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:         lookup,
		cache:          NewCache(),
		maxRetries:     DefaultMaxRetries,
		retryBackoff:   DefaultRetryBackoff,
		requestDelay:   DefaultRequestDelay,
		requestTimeout: DefaultRequestTimeout,
		validateState:  true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the coordinate for q, or false when the address cannot
// be resolved. Cache hits make no network call and incur no delay.
// Negative results are not cached.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Coordinate, bool) {
	full := FormatOneLine(q)
	if full == "" {
		r.report(ResultNotFound)
		return Coordinate{}, false
	}

	if coord, ok := r.cache.Get(full); ok {
		r.hits.Add(1)
		r.report(ResultHit)
		return coord, true
	}
	r.misses.Add(1)

	log := zap.L().With(zap.String("address", full), zap.String("lookup", r.lookup.Name()))

	cfg := resilience.FixedRetry(r.maxRetries, r.retryBackoff)
	if r.retryBackoff <= 0 {
		cfg.InitialBackoff = 0
	}
	cfg.OnRetry = resilience.RetryLogger(r.lookup.Name(), "geocode")

	loc, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*Location, error) {
		r.lookups.Add(1)
		attemptCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
		return r.lookup.Lookup(attemptCtx, full)
	})
	if err != nil {
		r.failures.Add(1)
		log.Warn("geocode: lookup failed", zap.Error(err))
		r.report(ResultFailed)
		return Coordinate{}, false
	}

	// Courtesy pause after every answered request, match or not.
	resilience.Sleep(ctx, r.requestDelay)

	if loc == nil {
		log.Debug("geocode: no match")
		r.report(ResultNotFound)
		return Coordinate{}, false
	}

	if !loc.Valid() {
		log.Warn("geocode: coordinates out of range",
			zap.Float64("lat", loc.Latitude),
			zap.Float64("lon", loc.Longitude),
		)
		r.report(ResultInvalid)
		return Coordinate{}, false
	}

	if r.validateState && q.State != "" && loc.DisplayName != "" &&
		!address.MentionsState(loc.DisplayName, q.State) {
		log.Warn("geocode: state mismatch",
			zap.String("expected_state", q.State),
			zap.String("display_name", loc.DisplayName),
		)
	}

	coord := Coordinate{Latitude: loc.Latitude, Longitude: loc.Longitude}
	r.cache.Set(full, coord)
	r.report(ResultResolved)
	return coord, true
}

// Stats returns a snapshot of resolver counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Lookups:  r.lookups.Load(),
		Failures: r.failures.Load(),
	}
}

// Len returns the number of cached addresses.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

func (r *Resolver) report(result string) {
	if r.observe != nil {
		r.observe(result)
	}
}
