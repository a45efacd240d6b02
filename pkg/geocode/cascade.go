package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/resilience"
)

// Cascade tries lookups in order until one matches.
//
// When no lookup matches, Cascade returns a transient error if any lookup
// failed transiently (so the caller retries the whole chain), the last
// permanent error if all failed permanently, and a plain not-found otherwise.
type Cascade struct {
	lookups []Lookup
}

// NewCascade creates a Cascade over the given lookups.
func NewCascade(lookups ...Lookup) *Cascade {
	return &Cascade{lookups: lookups}
}

// Name implements Lookup.
func (c *Cascade) Name() string {
	names := make([]string, len(c.lookups))
	for i, l := range c.lookups {
		names[i] = l.Name()
	}
	return "cascade(" + strings.Join(names, ",") + ")"
}

// Lookup implements Lookup.
func (c *Cascade) Lookup(ctx context.Context, fullAddress string) (*Location, error) {
	var transientErr, permanentErr error
	notFound := false

	for _, l := range c.lookups {
		loc, err := l.Lookup(ctx, fullAddress)
		if err != nil {
			zap.L().Debug("cascade: lookup error, trying next",
				zap.String("lookup", l.Name()),
				zap.Error(err),
			)
			if resilience.IsTransient(err) {
				transientErr = err
			} else {
				permanentErr = err
			}
			continue
		}
		if loc != nil {
			return loc, nil
		}
		notFound = true
	}

	switch {
	case transientErr != nil:
		return nil, transientErr
	case notFound:
		return nil, nil
	case permanentErr != nil:
		return nil, permanentErr
	default:
		return nil, eris.New("cascade: no lookups configured")
	}
}
