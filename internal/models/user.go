package models

import (
	"time"
)

const (
	RoleDistrict = "district"
	RoleLocal    = "local"
)

type User struct {
	ID             string
	Username       string
	PasswordHash   string
	Name           string
	Role           string  // "district" or "local"
	Status         string  // "active", "disabled"
	CongregationID *string // NULL for district-level accounts
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
