package model

import "time"

// RunStatus is the outcome of one source within a run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// RunLedgerEntry is one append-only row of the per-source run log.
type RunLedgerEntry struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Organization string    `json:"organization"`
	Status       RunStatus `json:"status"`
	RecordCount  int       `json:"record_count"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RunLogFilter narrows ListRunLog.
type RunLogFilter struct {
	Organization string `json:"organization,omitempty"`
	RunID        string `json:"run_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// Stats is an aggregate snapshot of the record store.
type Stats struct {
	TotalCount            int `json:"total_count"`
	CountWithCoordinates  int `json:"count_with_coordinates"`
	DistinctOrganizations int `json:"distinct_organizations"`
	DistinctRegions       int `json:"distinct_regions"`
}
