package models

import (
	"fmt"
	"time"
)

// UserRole is the closed set of caller roles.
type UserRole string

const (
	RoleStudent    UserRole = "STUDENT"
	RoleDepartment UserRole = "DEPARTMENT"
	RoleAdmin      UserRole = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleDepartment, RoleAdmin:
		return true
	}
	return false
}

// ParseUserRole converts raw input into a UserRole.
func ParseUserRole(raw string) (UserRole, error) {
	role := UserRole(raw)
	if !role.Valid() {
		return "", invalid("role", "unknown role %q", raw)
	}
	return role, nil
}

// User represents an application user stored in the users table.
// DepartmentID is set exactly when Role is DEPARTMENT.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         UserRole  `db:"role" json:"role"`
	DepartmentID *int64    `db:"department_id" json:"department_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Validate checks the user invariants.
func (u *User) Validate() error {
	if err := requireEmail("email", u.Email); err != nil {
		return err
	}
	if !u.Role.Valid() {
		return invalid("role", "unknown role %q", u.Role)
	}
	switch {
	case u.Role == RoleDepartment && (u.DepartmentID == nil || *u.DepartmentID <= 0):
		return invalid("department_id", "department_id is required for %s users", RoleDepartment)
	case u.Role != RoleDepartment && u.DepartmentID != nil:
		return invalid("department_id", "department_id is only allowed for %s users", RoleDepartment)
	}
	return nil
}

// Info returns the public projection of the user.
func (u *User) Info() UserInfo {
	return UserInfo{
		ID:           u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
	}
}

// String implements fmt.Stringer for log fields.
func (u *User) String() string {
	return fmt.Sprintf("%d:%s", u.ID, u.Role)
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role         *UserRole
	DepartmentID *int64
	Search       string
	Page         int
	PageSize     int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage clamps paging input to sane bounds.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}
