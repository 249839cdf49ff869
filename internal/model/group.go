package model

import "time"

// Role is a user's standing inside one study group.
//
// WHY A NAMED STRING TYPE?
// The database stores roles as TEXT ("PENDING", "MEMBER", "ADMIN"). A named type
// keeps that readable in SQL while stopping a random string from being passed
// where a role is expected.
//
// RoleNone is the zero value and means "no membership row". It is never stored.
// Code that asks "is this user an admin?" gets RoleNone for strangers, which
// compares false against every named role.
type Role string

const (
	RoleNone    Role = ""
	RolePending Role = "PENDING"
	RoleMember  Role = "MEMBER"
	RoleAdmin   Role = "ADMIN"
)

// IsActive reports whether the role counts as a member (MEMBER or ADMIN).
// PENDING rows are join requests, not members.
func (r Role) IsActive() bool {
	return r == RoleMember || r == RoleAdmin
}

// Valid reports whether r is one of the stored roles.
func (r Role) Valid() bool {
	return r == RolePending || r.IsActive()
}

// Group is a study group. Names are unique across the whole app.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Membership links a user to a group with a role.
// There is at most one row per (UserID, GroupID) pair.
type Membership struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	GroupID   int64     `json:"groupId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupSummary is one row of the public group listing.
// MemberCount only counts active members (MEMBER and ADMIN).
type GroupSummary struct {
	Group
	MemberCount int `json:"memberCount"`
}

// MyGroup is a group the caller belongs to, along with the caller's role in it.
type MyGroup struct {
	Group
	Role Role `json:"role"`
}

// UserJoinRequest is a pending request as seen by the user who sent it.
type UserJoinRequest struct {
	ID        int64     `json:"id"`
	GroupID   int64     `json:"groupId"`
	GroupName string    `json:"groupName"`
	CreatedAt time.Time `json:"createdAt"`
}

// GroupJoinRequest is a pending request as seen by a group admin.
type GroupJoinRequest struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"userId"`
	Username       string    `json:"username"`
	Nickname       string    `json:"nickname"`
	OccupationName string    `json:"occupationName"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Member is one active member in a group's member list.
type Member struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
}
