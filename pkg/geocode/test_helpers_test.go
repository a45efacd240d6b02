package geocode

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// newRewriteClient creates an HTTP client that rewrites requests to a test server URL.
// All requests matching the target prefix are redirected to the test server.
func newRewriteClient(testServerURL, targetPrefix string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:         http.DefaultTransport,
			testServer:   testServerURL,
			targetPrefix: targetPrefix,
		},
	}
}

type rewriteTransport struct {
	base         http.RoundTripper
	testServer   string
	targetPrefix string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	if strings.HasPrefix(origURL, t.targetPrefix) {
		suffix := origURL[len(t.targetPrefix):]
		newURL := t.testServer + suffix
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(newURL)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// fakeLookup is a scripted Lookup. Each call pops the next response; the
// last response repeats once the script runs out.
type fakeLookup struct {
	name string

	mu        sync.Mutex
	responses []fakeResponse
	calls     []string
}

type fakeResponse struct {
	loc   *Location
	err   error
	block bool // wait for ctx cancellation and return its error
}

func newFakeLookup(responses ...fakeResponse) *fakeLookup {
	return &fakeLookup{name: "fake", responses: responses}
}

func (f *fakeLookup) Name() string { return f.name }

func (f *fakeLookup) Lookup(ctx context.Context, fullAddress string) (*Location, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fullAddress)
	var resp fakeResponse
	if len(f.responses) > 0 {
		resp = f.responses[0]
		if len(f.responses) > 1 {
			f.responses = f.responses[1:]
		}
	}
	f.mu.Unlock()

	if resp.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp.loc, resp.err
}

func (f *fakeLookup) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
