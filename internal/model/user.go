// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data. They are similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User represents a registered account.
//
// The primary key is an int64 assigned by SQLite (INTEGER PRIMARY KEY). That
// integer is the Principal every other part of the app works with: it goes in
// the JWT "sub" claim and in every membership, board and comment row.
//
// PasswordHash and RefreshToken carry `json:"-"` so they can never leak into an
// API response, even if a handler encodes a *User by mistake.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Nickname       string    `json:"nickname"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	OccupationID   int64     `json:"occupationId"`
	OccupationName string    `json:"occupationName"` // joined from occupations; read-only
	RefreshToken   string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	ModifiedAt     time.Time `json:"modifiedAt"`
}

// Occupation is a lookup value users pick at signup (student, developer, ...).
type Occupation struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
