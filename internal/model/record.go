package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCoordinatePair is returned when a record carries a latitude without a
// longitude or vice versa.
var ErrCoordinatePair = eris.New("model: latitude and longitude must be set together")

// ErrMissingName is returned when a candidate has no usable name.
var ErrMissingName = eris.New("model: record name is required")

// Key is the identity of a record across runs. Comparison is exact string
// equality on both parts.
type Key struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
}

// Address is the structured form of a free-text address. Every field is
// optional.
type Address struct {
	Street     *string `json:"street,omitempty"`
	City       *string `json:"city,omitempty"`
	State      *string `json:"state,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
}

// Record is one persisted parish directory entry.
type Record struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Organization  string     `json:"organization"`
	RegionLabel   string     `json:"region_label"`
	CountryLabel  string     `json:"country_label"`
	Street        *string    `json:"street,omitempty"`
	City          *string    `json:"city,omitempty"`
	State         *string    `json:"state,omitempty"`
	PostalCode    *string    `json:"postal_code,omitempty"`
	Address       *string    `json:"address,omitempty"`
	Phone         *string    `json:"phone,omitempty"`
	Email         *string    `json:"email,omitempty"`
	Website       *string    `json:"website,omitempty"`
	Schedule      *string    `json:"schedule_blob,omitempty"`
	Latitude      *float64   `json:"latitude,omitempty"`
	Longitude     *float64   `json:"longitude,omitempty"`
	SourceURL     *string    `json:"source_url,omitempty"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Key returns the record's identity key.
func (r *Record) Key() Key {
	return Key{Name: r.Name, Organization: r.Organization}
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r *Record) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// SetCoordinates attaches a coordinate pair.
func (r *Record) SetCoordinates(lat, lon float64) {
	r.Latitude = &lat
	r.Longitude = &lon
}

// ApplyAddress copies parsed address fields onto the record.
func (r *Record) ApplyAddress(a Address) {
	r.Street = a.Street
	r.City = a.City
	r.State = a.State
	r.PostalCode = a.PostalCode
}

// Validate checks the invariants every stored record must satisfy.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return ErrCoordinatePair
	}
	return nil
}

// RecordUpdate is a partial update of a stored record. Nil fields are left
// untouched. ClearCoordinates removes both coordinates and wins over
// Latitude/Longitude.
type RecordUpdate struct {
	RegionLabel      *string
	CountryLabel     *string
	Street           *string
	City             *string
	State            *string
	PostalCode       *string
	Address          *string
	Phone            *string
	Email            *string
	Website          *string
	Schedule         *string
	Latitude         *float64
	Longitude        *float64
	SourceURL        *string
	ClearCoordinates bool
}

// Validate rejects updates that would leave only one coordinate set.
func (u RecordUpdate) Validate() error {
	if u.ClearCoordinates {
		return nil
	}
	if (u.Latitude == nil) != (u.Longitude == nil) {
		return ErrCoordinatePair
	}
	return nil
}

// Empty reports whether the update changes nothing but the refresh stamp.
func (u RecordUpdate) Empty() bool {
	return u == RecordUpdate{}
}

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Organization   string `json:"organization,omitempty"`
	State          string `json:"state,omitempty"`
	HasCoordinates bool   `json:"has_coordinates,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
