// Package lifecycle holds the transition table for form statuses.
package lifecycle

import (
	"fmt"

	"github.com/noah-isme/formdesk-api/internal/models"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

// Event is something that may move a form between statuses.
type Event string

const (
	EventReply  Event = "reply"
	EventAccept Event = "accept"
	EventReject Event = "reject"
	EventEdit   Event = "edit"
	EventDelete Event = "delete"
)

type edge struct {
	from  models.FormStatus
	event Event
}

var transitions = map[edge]models.FormStatus{
	{models.StatusPending, EventReply}:     models.StatusProcessing,
	{models.StatusProcessing, EventAccept}: models.StatusAccepted,
	{models.StatusProcessing, EventReject}: models.StatusRejected,
	{models.StatusPending, EventEdit}:      models.StatusPending,
	{models.StatusPending, EventDelete}:    models.StatusPending,
}

// Admins may additionally edit or delete a form that is being processed.
var adminOverrides = map[edge]models.FormStatus{
	{models.StatusProcessing, EventEdit}:   models.StatusProcessing,
	{models.StatusProcessing, EventDelete}: models.StatusProcessing,
}

// InvalidTransitionError is returned for any event the table does not allow from the current status.
type InvalidTransitionError struct {
	From  models.FormStatus
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot apply %s to a form in status %s", e.Event, e.From)
}

// AppError maps the rejection onto the INVALID_TRANSITION transport error.
func (e *InvalidTransitionError) AppError() *appErrors.Error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, e.Error()).
		WithDetail("current", string(e.From)).
		WithDetail("event", string(e.Event))
}

// Next returns the status reached by applying event in from.
func Next(from models.FormStatus, event Event) (models.FormStatus, error) {
	if to, ok := transitions[edge{from, event}]; ok {
		return to, nil
	}
	return "", &InvalidTransitionError{From: from, Event: event}
}

// AdminOverride is Next with the administrator extensions applied.
func AdminOverride(from models.FormStatus, event Event) (models.FormStatus, error) {
	if to, ok := adminOverrides[edge{from, event}]; ok {
		return to, nil
	}
	return Next(from, event)
}

// CanApply reports whether event is allowed in from.
func CanApply(from models.FormStatus, event Event) bool {
	_, ok := transitions[edge{from, event}]
	return ok
}

// DecisionEvent maps a finalize decision onto its event.
func DecisionEvent(decision models.FormStatus) (Event, error) {
	switch decision {
	case models.StatusAccepted:
		return EventAccept, nil
	case models.StatusRejected:
		return EventReject, nil
	default:
		return "", &models.ValidationError{Field: "decision", Message: fmt.Sprintf("decision must be %s or %s", models.StatusAccepted, models.StatusRejected)}
	}
}

var order = map[models.FormStatus]int{
	models.StatusPending:    0,
	models.StatusProcessing: 1,
	models.StatusAccepted:   2,
	models.StatusRejected:   2,
}

// IsSubsequence reports whether an observed status history fits
// PENDING -> PROCESSING -> (ACCEPTED | REJECTED) without going backwards or branching.
// Repeated entries are tolerated since edits keep a form in PENDING.
func IsSubsequence(history []models.FormStatus) bool {
	last := -1
	var terminal models.FormStatus
	for _, status := range history {
		rank, ok := order[status]
		if !ok || rank < last {
			return false
		}
		if status.IsTerminal() {
			if terminal != "" && terminal != status {
				return false
			}
			terminal = status
		}
		last = rank
	}
	return true
}
