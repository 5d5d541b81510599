package models

import "unicode/utf8"

// CategoryNameMaxLength bounds category names.
const CategoryNameMaxLength = 100

// Category is a routing bucket owned by exactly one department.
type Category struct {
	ID           int64  `db:"id" json:"id"`
	Name         string `db:"name" json:"name"`
	DepartmentID int64  `db:"department_id" json:"department_id"`
}

func (c *Category) Validate() error {
	if err := requireText("name", c.Name); err != nil {
		return err
	}
	if utf8.RuneCountInString(c.Name) > CategoryNameMaxLength {
		return invalid("name", "name must be at most %d characters", CategoryNameMaxLength)
	}
	return requireID("department_id", c.DepartmentID)
}
