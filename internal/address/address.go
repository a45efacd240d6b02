// Package address turns loosely formatted address text scraped from parish
// listings into structured fields. Parsing is best-effort and never fails.
package address

import (
	"regexp"
	"strings"

	"github.com/massfinder/parish-ingest/internal/model"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	stateRe      = regexp.MustCompile(`\b[A-Z]{2}\b`)
	postalRe     = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	phoneRes     = []*regexp.Regexp{
		regexp.MustCompile(`\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}`),
		regexp.MustCompile(`\d{3}[-.\s]\d{3}[-.\s]\d{4}`),
	}
	emailRe = regexp.MustCompile(`[\w.\-]+@[\w.\-]+\.\w+`)
)

// Hints are source-provided defaults used when the text itself does not
// yield a value. Empty strings mean no hint.
type Hints struct {
	City       string
	State      string
	PostalCode string
}

// Parse splits free-text address into street, city, state and postal code.
//
// With three or more comma-separated segments the first is the street, the
// second the city, and the last is scanned for a two-letter uppercase state
// token. With exactly two segments only street and city are assigned. The
// postal code is scanned over the whole text regardless of segment count.
func Parse(text string, hints Hints) model.Address {
	text = CleanText(text)

	out := model.Address{
		City:       model.StringPtr(hints.City),
		State:      model.StringPtr(hints.State),
		PostalCode: model.StringPtr(hints.PostalCode),
	}
	if text == "" {
		return out
	}

	if zip := ExtractPostalCode(text); zip != "" {
		out.PostalCode = &zip
	}

	parts := strings.Split(text, ",")
	switch {
	case len(parts) >= 3:
		out.Street = model.StringPtr(parts[0])
		if city := model.StringPtr(parts[1]); city != nil {
			out.City = city
		}
		last := strings.TrimSpace(parts[len(parts)-1])
		if st := stateRe.FindString(last); st != "" {
			out.State = &st
		}
	case len(parts) == 2:
		out.Street = model.StringPtr(parts[0])
		if city := model.StringPtr(parts[1]); city != nil {
			out.City = city
		}
	}

	return out
}

// CleanText collapses whitespace runs to a single space and trims.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// ExtractPostalCode returns the first 5-digit (optionally ZIP+4) code in s.
func ExtractPostalCode(s string) string {
	return postalRe.FindString(s)
}

// ExtractPhone returns the first North American phone number in s.
func ExtractPhone(s string) string {
	for _, re := range phoneRes {
		if m := re.FindString(s); m != "" {
			return m
		}
	}
	return ""
}

// ExtractEmail returns the first email-looking token in s.
func ExtractEmail(s string) string {
	return emailRe.FindString(s)
}
