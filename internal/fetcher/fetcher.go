// Package fetcher retrieves source listings over HTTP or from local files
// and reads tabular seed data (CSV, XLSX, JSON arrays).
package fetcher

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for retrieving a source document.
type Fetcher interface {
	// Fetch returns the full body at location.
	Fetch(ctx context.Context, location string) ([]byte, error)

	// Open returns a reader for the body at location. The caller closes it.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// IsLocal reports whether location names a local file rather than a URL.
func IsLocal(location string) bool {
	return strings.HasPrefix(location, "file://") ||
		!(strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"))
}

// LocalPath strips a file:// scheme.
func LocalPath(location string) string {
	return strings.TrimPrefix(location, "file://")
}

// OpenLocal opens a local file named by a plain path or file:// URL.
func OpenLocal(location string) (io.ReadCloser, error) {
	f, err := os.Open(LocalPath(location))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", location)
	}
	return f, nil
}
