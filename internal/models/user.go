package models

import "github.com/google/uuid"

// DefaultRating is assigned to new and guest accounts.
const DefaultRating = 1200

// User is the authenticated principal as the coordinator sees it. Account
// CRUD owns the row; game code only reads these fields.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsGuest bool `json:"is_guest"`
	IsAdmin bool `json:"is_admin"`
	Banned  bool `json:"banned"`

	Rating int `json:"rating"`
}
