package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	auditStampPrefix = "Update at: "
	auditReasonLabel = "Reason: "
)

// Response is the staff reply attached to a form. One per form.
type Response struct {
	ID        int64     `db:"id" json:"id"`
	FormID    int64     `db:"form_id" json:"form_id"`
	StaffID   int64     `db:"staff_id" json:"staff_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r *Response) Validate() error {
	if err := requireID("form_id", r.FormID); err != nil {
		return err
	}
	if err := requireID("staff_id", r.StaffID); err != nil {
		return err
	}
	return requireText("content", r.Content)
}

// DecisionStamp renders the audit line prefixed to a response when a form is finalized.
func DecisionStamp(at time.Time, reason string) string {
	return fmt.Sprintf("%s%s\n%s%s\n\n", auditStampPrefix, at.UTC().Format(time.RFC3339), auditReasonLabel, reason)
}

// HasDecisionStamp reports whether content already starts with a stamp carrying reason.
func HasDecisionStamp(content, reason string) bool {
	if !strings.HasPrefix(content, auditStampPrefix) {
		return false
	}
	nl := strings.IndexByte(content, '\n')
	if nl < 0 {
		return false
	}
	return strings.HasPrefix(content[nl+1:], auditReasonLabel+reason+"\n\n")
}

// StampDecision prefixes content with the decision stamp unless the same reason is already recorded.
// The boolean result reports whether content changed.
func StampDecision(content, reason string, at time.Time) (string, bool) {
	if HasDecisionStamp(content, reason) {
		return content, false
	}
	return DecisionStamp(at, reason) + content, true
}
