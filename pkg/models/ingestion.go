package models

import "time"

// IngestionState is persisted between runs so the next run resumes after
// the last page the previous run attempted.
type IngestionState struct {
	LastPage     int       `json:"last_page"`
	LastDataPage int       `json:"last_data_page,omitempty"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// NextPage is the first page a new run should request.
func (s IngestionState) NextPage() int {
	if s.LastPage < 0 {
		return 1
	}
	return s.LastPage + 1
}
