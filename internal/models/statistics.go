package models

import "time"

// DepartmentStatistics counts a department's forms per status.
type DepartmentStatistics struct {
	DepartmentID int64     `db:"department_id" json:"department_id"`
	Total        int       `db:"-" json:"total"`
	Pending      int       `db:"pending" json:"pending"`
	Processing   int       `db:"processing" json:"processing"`
	Accepted     int       `db:"accepted" json:"accepted"`
	Rejected     int       `db:"rejected" json:"rejected"`
	GeneratedAt  time.Time `db:"-" json:"generated_at"`
}

// Recount derives Total from the per-status partitions.
func (s *DepartmentStatistics) Recount() {
	s.Total = s.Pending + s.Processing + s.Accepted + s.Rejected
}

// Count returns the number of forms in status.
func (s *DepartmentStatistics) Count(status FormStatus) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusProcessing:
		return s.Processing
	case StatusAccepted:
		return s.Accepted
	case StatusRejected:
		return s.Rejected
	}
	return 0
}
