package extract

import (
	"bytes"
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"

	"github.com/massfinder/parish-ingest/internal/address"
	"github.com/massfinder/parish-ingest/internal/fetcher"
	"github.com/massfinder/parish-ingest/internal/model"
)

// HTMLName is the registry name of the listing-page extractor.
const HTMLName = "html"

// HTMLExtractor scrapes a single parish listing page. It looks for
// container elements whose class mentions "parish" or "church" and reads
// one candidate from each. Detail pages are not followed.
type HTMLExtractor struct {
	fetcher fetcher.Fetcher
	name    string
}

// NewHTMLExtractor creates an HTMLExtractor that fetches pages with f.
func NewHTMLExtractor(f fetcher.Fetcher) *HTMLExtractor {
	return &HTMLExtractor{fetcher: f, name: HTMLName}
}

// Named returns a copy registered under a different name, so a source list
// can refer to the same heuristics by a per-site id.
func (h *HTMLExtractor) Named(name string) *HTMLExtractor {
	return &HTMLExtractor{fetcher: h.fetcher, name: name}
}

func (h *HTMLExtractor) Name() string { return h.name }

// Scrape fetches src.Endpoint and extracts candidates from it.
func (h *HTMLExtractor) Scrape(ctx context.Context, src model.Source) ([]model.RawCandidate, error) {
	if strings.TrimSpace(src.Endpoint) == "" {
		return nil, eris.Errorf("extract: source %q has no endpoint", src.Name)
	}
	body, err := h.fetcher.Fetch(ctx, src.Endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: fetch %s", src.Endpoint)
	}
	cands, err := ParseListing(body, src.Endpoint)
	if err != nil {
		return nil, err
	}
	// Only an empty page is blamed on a block; real listings may mention captcha.
	if len(cands) == 0 {
		if bt := DetectBlock(body); bt != BlockNone {
			return nil, eris.Errorf("extract: %s blocked (%s)", src.Endpoint, bt)
		}
	}
	zap.L().Debug("extract: parsed listing",
		zap.String("organization", src.Name),
		zap.String("url", src.Endpoint),
		zap.Int("candidates", len(cands)),
	)
	return cands, nil
}

// ParseListing extracts candidates from an HTML listing page. pageURL is
// recorded as each candidate's source URL.
func ParseListing(body []byte, pageURL string) ([]model.RawCandidate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	containers := findContainers(doc, atom.Div, atom.Article, atom.Section)
	if len(containers) == 0 {
		containers = findContainers(doc, atom.Li, atom.Tr)
	}

	var out []model.RawCandidate
	for _, c := range containers {
		if cand, ok := candidateFrom(c, pageURL); ok {
			out = append(out, cand)
		}
	}
	return out, nil
}

// findContainers returns the innermost elements of the given tags whose
// class mentions a parish or church. Wrappers around other matches are
// skipped so a listing wrapper does not become a candidate of its own.
func findContainers(root *html.Node, tags ...atom.Atom) []*html.Node {
	match := func(n *html.Node) bool {
		if n.Type != html.ElementNode || !hasTag(n, tags...) {
			return false
		}
		cls := strings.ToLower(attr(n, "class"))
		return strings.Contains(cls, "parish") || strings.Contains(cls, "church")
	}

	var out []*html.Node
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		inner := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				inner = true
			}
		}
		if match(n) {
			if !inner {
				out = append(out, n)
			}
			return true
		}
		return inner
	}
	walk(root)

	// walk appends in post-order; leaves never nest, so document order holds.
	return out
}

func candidateFrom(c *html.Node, pageURL string) (model.RawCandidate, bool) {
	nameNode := findFirst(c, func(n *html.Node) bool {
		return hasTag(n, atom.H2, atom.H3, atom.H4, atom.Strong, atom.A)
	})
	if nameNode == nil {
		return model.RawCandidate{}, false
	}
	name := cleanNodeText(nameNode)
	if name == "" {
		return model.RawCandidate{}, false
	}

	text := nodeText(c)
	cand := model.RawCandidate{
		Name:      name,
		Phone:     model.StringPtr(address.ExtractPhone(text)),
		Email:     model.StringPtr(address.ExtractEmail(text)),
		SourceURL: model.StringPtr(pageURL),
	}

	link := findFirst(c, func(n *html.Node) bool {
		if !hasTag(n, atom.A) {
			return false
		}
		href := attr(n, "href")
		return strings.Contains(href, "http") || strings.Contains(href, "www")
	})
	if link != nil {
		if href := attr(link, "href"); strings.HasPrefix(href, "http") {
			cand.Website = model.StringPtr(href)
		}
	}

	addrNode := findFirst(c, func(n *html.Node) bool {
		if hasTag(n, atom.Address) && attr(n, "class") == "" {
			return true
		}
		return hasTag(n, atom.Address, atom.P, atom.Div, atom.Span) &&
			strings.Contains(strings.ToLower(attr(n, "class")), "address")
	})
	if addrNode != nil {
		cand.Address = model.StringPtr(cleanNodeText(addrNode))
	} else {
		for _, line := range strings.Split(text, "\n") {
			line = address.CleanText(line)
			if strings.Contains(line, ",") && strings.IndexFunc(line, unicode.IsDigit) >= 0 {
				cand.Address = model.StringPtr(line)
				break
			}
		}
	}

	sched := findFirst(c, func(n *html.Node) bool {
		cls := strings.ToLower(attr(n, "class"))
		return hasTag(n, atom.Div, atom.Section, atom.P, atom.Ul) &&
			(strings.Contains(cls, "mass") || strings.Contains(cls, "schedule"))
	})
	if sched != nil {
		cand.MassTimes = model.StringPtr(cleanNodeText(sched))
	}

	return cand, true
}

// findFirst returns the first descendant of root (excluding root) in
// document order that satisfies pred.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && pred(c) {
			return c
		}
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func hasTag(n *html.Node, tags ...atom.Atom) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, t := range tags {
		if n.DataAtom == t {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// blockTags start a new line in nodeText.
var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.Td: true, atom.Address: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Section: true, atom.Article: true,
}

// nodeText returns the NFC-normalized text under n with block elements on
// their own lines. Script and style contents are dropped.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
			if blockTags[n.DataAtom] {
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(n)
	return norm.NFC.String(b.String())
}

func cleanNodeText(n *html.Node) string {
	return address.CleanText(nodeText(n))
}
