package models

import "time"

// ReconcileReport summarises one consistency sweep over forms and responses.
type ReconcileReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Advanced lists pending forms that had a response and were moved to PROCESSING.
	Advanced []int64 `json:"advanced"`
	// Orphans lists forms past PENDING that have no response. They are reported, not changed.
	Orphans []int64 `json:"orphans"`
}

// ReconcileCandidate is a form whose status disagrees with the presence of a response.
type ReconcileCandidate struct {
	FormID      int64      `db:"form_id"`
	Status      FormStatus `db:"status"`
	HasResponse bool       `db:"has_response"`
}
