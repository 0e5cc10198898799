package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an authenticated user in the system.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	Email     string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string         `gorm:"size:255" json:"name,omitempty"`
	Password  string         `gorm:"size:255;not null" json:"-"` // Hashed, never exposed in JSON
	Active    bool           `gorm:"not null;default:true" json:"active"`
	// ProfileID links the user to an authorization profile.
	// A nil value means the user has no profile assigned (limited access).
	ProfileID *uint    `gorm:"index" json:"profile_id,omitempty"`
	Profile   *Profile `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
	// DepartementID scopes what a chef de département may validate.
	DepartementID *uint        `gorm:"index" json:"departement_id,omitempty"`
	Departement   *Departement `gorm:"foreignKey:DepartementID" json:"departement,omitempty"`
}

// DepartementOf returns the user's department id, 0 when unassigned.
func (u *User) DepartementOf() uint {
	if u == nil || u.DepartementID == nil {
		return 0
	}
	return *u.DepartementID
}
