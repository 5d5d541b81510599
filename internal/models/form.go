package models

import "time"

// FormStatus is the closed set of lifecycle states of a form.
type FormStatus string

const (
	StatusPending    FormStatus = "PENDING"
	StatusProcessing FormStatus = "PROCESSING"
	StatusAccepted   FormStatus = "ACCEPTED"
	StatusRejected   FormStatus = "REJECTED"
)

// FormStatuses lists every status in lifecycle order.
var FormStatuses = []FormStatus{StatusPending, StatusProcessing, StatusAccepted, StatusRejected}

func (s FormStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s FormStatus) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// ParseFormStatus converts raw input into a FormStatus.
func ParseFormStatus(raw string) (FormStatus, error) {
	status := FormStatus(raw)
	if !status.Valid() {
		return "", invalid("status", "unknown status %q", raw)
	}
	return status, nil
}

// Form is a student's request routed to a department through its category.
// DepartmentID is resolved from the category on read and never stored on the form row.
type Form struct {
	ID           int64      `db:"id" json:"id"`
	StudentID    int64      `db:"student_id" json:"student_id"`
	CategoryID   int64      `db:"category_id" json:"category_id"`
	DepartmentID int64      `db:"department_id" json:"department_id"`
	Subject      string     `db:"subject" json:"subject"`
	Content      string     `db:"content" json:"content"`
	Status       FormStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// NewForm builds a pending form stamped with now.
func NewForm(studentID, categoryID int64, subject, content string, now time.Time) (*Form, error) {
	form := &Form{
		StudentID:  studentID,
		CategoryID: categoryID,
		Subject:    subject,
		Content:    content,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}
	return form, nil
}

func (f *Form) Validate() error {
	if err := requireID("student_id", f.StudentID); err != nil {
		return err
	}
	if err := requireID("category_id", f.CategoryID); err != nil {
		return err
	}
	if err := requireText("subject", f.Subject); err != nil {
		return err
	}
	if err := requireText("content", f.Content); err != nil {
		return err
	}
	if !f.Status.Valid() {
		return invalid("status", "unknown status %q", f.Status)
	}
	return nil
}

// FormFilter narrows form listings. Nil fields are not applied.
type FormFilter struct {
	StudentID    *int64
	DepartmentID *int64
	CategoryID   *int64
	Status       *FormStatus
	Search       string
	Page         int
	PageSize     int
}

// FormWithResponse is a form together with its reply and the responder, when replied.
type FormWithResponse struct {
	Form
	Response  *Response `json:"response,omitempty"`
	Responder *UserInfo `json:"responder,omitempty"`
}
