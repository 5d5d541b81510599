// Package policy decides whether a caller may perform an operation on a target.
// Rules are evaluated in a fixed precedence and the first match wins.
package policy

import (
	"github.com/noah-isme/formdesk-api/internal/models"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
)

// Operation names an action gated by the policy.
type Operation string

const (
	ReadForm        Operation = "read_form"
	ListForms       Operation = "list_forms"
	ViewStatistics  Operation = "view_statistics"
	CreateForm      Operation = "create_form"
	EditForm        Operation = "edit_form"
	DeleteForm      Operation = "delete_form"
	Reply           Operation = "reply"
	UpdateResponse  Operation = "update_response"
	Finalize        Operation = "finalize"
	ViewProfile     Operation = "view_profile"
	EditProfile     Operation = "edit_profile"
	ManageDirectory Operation = "manage_directory"
	Reconcile       Operation = "reconcile"
)

// Deny reasons surfaced to callers verbatim.
const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"
	ReasonImmutable       = "immutable in current status"
	ReasonAlreadyReplied  = "already replied"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID       int64
	Role         models.UserRole
	DepartmentID *int64
}

// FromClaims builds a principal from validated token claims. Nil claims yield an anonymous principal.
func FromClaims(claims *models.JWTClaims) Principal {
	if claims == nil {
		return Principal{}
	}
	return Principal{UserID: claims.UserID, Role: claims.Role, DepartmentID: claims.DepartmentID}
}

func (p Principal) Authenticated() bool {
	return p.UserID > 0 && p.Role.Valid()
}

// InDepartment reports whether the caller is staff of departmentID.
func (p Principal) InDepartment(departmentID int64) bool {
	return p.Role == models.RoleDepartment && p.DepartmentID != nil && *p.DepartmentID == departmentID
}

// Target is what an operation acts on. Only the fields relevant to the operation are read:
// Form (with its resolved DepartmentID) for form operations, Response for reply ownership,
// UserID for profiles, form creation and per-student listings, DepartmentID for department scoped reads.
type Target struct {
	Form         *models.Form
	Response     *models.Response
	UserID       int64
	DepartmentID int64
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Err converts a denial into the matching application error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return appErrors.Clone(appErrors.ErrUnauthorized, d.Reason)
	case ReasonAlreadyReplied:
		return appErrors.Clone(appErrors.ErrConflict, d.Reason)
	default:
		return appErrors.Clone(appErrors.ErrForbidden, d.Reason)
	}
}

// Authorize evaluates the access rules for p performing op on t.
func Authorize(p Principal, op Operation, t Target) Decision {
	if !p.Authenticated() {
		return deny(ReasonUnauthenticated)
	}
	if p.Role == models.RoleAdmin {
		return allow
	}

	switch op {
	case ReadForm:
		return canRead(p, t.Form)
	case ListForms:
		return canList(p, t)
	case ViewStatistics:
		if p.InDepartment(t.DepartmentID) {
			return allow
		}
	case CreateForm:
		if p.Role == models.RoleStudent && t.UserID == p.UserID {
			return allow
		}
	case EditForm, DeleteForm:
		return canModifyForm(p, t.Form)
	case Reply:
		return canReply(p, t)
	case UpdateResponse, Finalize:
		return canHandleReply(p, t)
	case ViewProfile, EditProfile:
		if t.UserID == p.UserID {
			return allow
		}
	}
	return deny(ReasonForbidden)
}

func canRead(p Principal, form *models.Form) Decision {
	if form == nil {
		return deny(ReasonForbidden)
	}
	switch p.Role {
	case models.RoleStudent:
		if form.StudentID == p.UserID {
			return allow
		}
	case models.RoleDepartment:
		if p.InDepartment(form.DepartmentID) {
			return allow
		}
	}
	return deny(ReasonForbidden)
}

func canList(p Principal, t Target) Decision {
	switch p.Role {
	case models.RoleStudent:
		if t.UserID == p.UserID && t.DepartmentID == 0 {
			return allow
		}
	case models.RoleDepartment:
		if t.UserID == 0 && p.InDepartment(t.DepartmentID) {
			return allow
		}
	}
	return deny(ReasonForbidden)
}

func canModifyForm(p Principal, form *models.Form) Decision {
	if form == nil || p.Role != models.RoleStudent || form.StudentID != p.UserID {
		return deny(ReasonForbidden)
	}
	if form.Status != models.StatusPending {
		return deny(ReasonImmutable)
	}
	return allow
}

func canReply(p Principal, t Target) Decision {
	if t.Form == nil || !p.InDepartment(t.Form.DepartmentID) {
		return deny(ReasonForbidden)
	}
	if t.Response != nil {
		return deny(ReasonAlreadyReplied)
	}
	return allow
}

func canHandleReply(p Principal, t Target) Decision {
	if t.Form == nil || t.Response == nil || !p.InDepartment(t.Form.DepartmentID) || t.Response.StaffID != p.UserID {
		return deny(ReasonForbidden)
	}
	if t.Form.Status != models.StatusProcessing {
		return deny(ReasonImmutable)
	}
	return allow
}
