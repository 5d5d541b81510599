package models

import "time"

// Department is an organizational unit owning categories.
type Department struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (d *Department) Validate() error {
	if err := requireText("name", d.Name); err != nil {
		return err
	}
	return requireEmail("email", d.Email)
}
