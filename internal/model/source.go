package model

import "strings"

// DefaultCountry is used when a source does not name its country.
const DefaultCountry = "USA"

// Source is one organization whose website publishes parish listings.
type Source struct {
	Name        string `yaml:"name" json:"name"`
	Region      string `yaml:"region" json:"region"`
	Country     string `yaml:"country" json:"country"`
	Website     string `yaml:"website" json:"website"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	ExtractorID string `yaml:"extractor" json:"extractor"`
}

// CountryOrDefault returns the source country, defaulting to USA.
func (s Source) CountryOrDefault() string {
	if c := strings.TrimSpace(s.Country); c != "" {
		return c
	}
	return DefaultCountry
}

// RawCandidate is a loosely structured record as an extractor yields it.
// Only Name is required.
type RawCandidate struct {
	Name       string  `yaml:"name" json:"name"`
	Address    *string `yaml:"address,omitempty" json:"address,omitempty"`
	City       *string `yaml:"city,omitempty" json:"city,omitempty"`
	State      *string `yaml:"state,omitempty" json:"state,omitempty"`
	PostalCode *string `yaml:"postal_code,omitempty" json:"postal_code,omitempty"`
	Phone      *string `yaml:"phone,omitempty" json:"phone,omitempty"`
	Email      *string `yaml:"email,omitempty" json:"email,omitempty"`
	Website    *string `yaml:"website,omitempty" json:"website,omitempty"`
	MassTimes  *string `yaml:"mass_times,omitempty" json:"mass_times,omitempty"`
	SourceURL  *string `yaml:"source_url,omitempty" json:"source_url,omitempty"`
}

// Valid reports whether the candidate has a non-blank name.
func (c RawCandidate) Valid() bool {
	return strings.TrimSpace(c.Name) != ""
}

// HasAddress reports whether the candidate carries address text.
func (c RawCandidate) HasAddress() bool {
	return c.Address != nil && strings.TrimSpace(*c.Address) != ""
}
