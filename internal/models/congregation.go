package models

import "time"

// Congregation is a local branch of the district. PinHash holds the
// bcrypt hash of the congregation's 4-digit access PIN used by the
// PIN login path.
type Congregation struct {
	ID         string
	Name       string
	PinHash    string
	IsDistrict bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
