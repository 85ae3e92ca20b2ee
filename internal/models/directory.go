package models

// Unit is an organisational department that owns and resolves requests.
type Unit struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Category classifies requests. UnitID, when set, is the unit that usually
// handles the category.
type Category struct {
	ID     string  `db:"id" json:"id"`
	Name   string  `db:"name" json:"name"`
	UnitID *string `db:"unit_id" json:"unitId,omitempty"`
}
