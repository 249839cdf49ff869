// Package repository defines the storage contracts the service layer depends on.
//
// The service layer only ever sees these interfaces; internal/repository/sqlite
// provides the concrete implementation and the service tests provide fakes.
// Errors follow internal/apperror: a missing row is apperror.ErrNotFound, a
// violated UNIQUE constraint is apperror.ErrConflict.
package repository

import (
	"context"

	"github.com/sakif/study-hub/internal/model"
)

// ListOptions is offset pagination. Implementations clamp Limit to
// DefaultLimit when <= 0 and to MaxLimit when larger.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Normalize applies the default and maximum page sizes.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// UserRepository stores accounts, their refresh tokens and the occupation
// lookup table.
type UserRepository interface {
	// Create inserts u and sets its ID and timestamps. A taken email is a Conflict.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdateProfile writes username, nickname and occupation_id.
	UpdateProfile(ctx context.Context, u *model.User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	// SetRefreshToken overwrites the stored refresh token ("" clears it).
	SetRefreshToken(ctx context.Context, id int64, token string) error
	// SwapRefreshToken replaces old with next only if old is still the stored
	// token. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id int64, old, next string) (bool, error)

	GetOccupation(ctx context.Context, id int64) (*model.Occupation, error)
	GetOccupationByName(ctx context.Context, name string) (*model.Occupation, error)
	ListOccupations(ctx context.Context) ([]model.Occupation, error)
}

// MembershipStore is the set of group and membership queries. Inside
// GroupRepository.WithTx every call runs on the same transaction.
type MembershipStore interface {
	// CreateGroup inserts g. A taken name is apperror.DuplicateName.
	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, id int64) (*model.Group, error)
	// DeleteGroup removes the group; its memberships cascade.
	DeleteGroup(ctx context.Context, id int64) error
	// ListGroups returns every group whose name contains nameFilter
	// (all groups when empty), each with its active member count.
	ListGroups(ctx context.Context, nameFilter string) ([]model.GroupSummary, error)
	// ListGroupsForUser returns the groups where userID is an active member.
	ListGroupsForUser(ctx context.Context, userID int64) ([]model.MyGroup, error)

	// CreateMembership inserts m. A second row for the same (user, group)
	// is a Conflict.
	CreateMembership(ctx context.Context, m *model.Membership) error
	GetMembership(ctx context.Context, id int64) (*model.Membership, error)
	// FindMembership looks up the row for (groupID, userID).
	FindMembership(ctx context.Context, groupID, userID int64) (*model.Membership, error)
	// RoleOf returns the role of userID in groupID, or model.RoleNone when
	// there is no row. Absence is not an error.
	RoleOf(ctx context.Context, groupID, userID int64) (model.Role, error)
	SetRole(ctx context.Context, membershipID int64, role model.Role) error
	DeleteMembership(ctx context.Context, membershipID int64) error
	CountAdmins(ctx context.Context, groupID int64) (int, error)
	// DeleteUser removes a user account. Its memberships, boards and
	// comments cascade. It lives here so account withdrawal can settle
	// group ownership in the same transaction.
	DeleteUser(ctx context.Context, userID int64) error

	ListPendingForUser(ctx context.Context, userID int64) ([]model.UserJoinRequest, error)
	ListPendingForGroup(ctx context.Context, groupID int64) ([]model.GroupJoinRequest, error)
	ListActiveMembers(ctx context.Context, groupID int64) ([]model.Member, error)
}

// GroupRepository is a MembershipStore that can also open a scoped
// transaction. fn's store is bound to the transaction: it commits when fn
// returns nil and rolls back on an error or a panic.
type GroupRepository interface {
	MembershipStore
	WithTx(ctx context.Context, fn func(MembershipStore) error) error
}

// BoardFilter narrows ListBoards. Zero values mean "any".
type BoardFilter struct {
	CategoryID   int64
	CategoryType string
	ListOptions
}

// BoardRepository stores boards and their comments.
type BoardRepository interface {
	CreateBoard(ctx context.Context, b *model.Board) error
	GetBoard(ctx context.Context, id int64) (*model.Board, error)
	ListBoards(ctx context.Context, f BoardFilter) ([]model.Board, error)
	// UpdateBoard writes title, content, category_id and category_type.
	UpdateBoard(ctx context.Context, b *model.Board) error
	// DeleteBoard removes the board; its comments cascade.
	DeleteBoard(ctx context.Context, id int64) error

	CreateComment(ctx context.Context, c *model.Comment) error
	GetComment(ctx context.Context, id int64) (*model.Comment, error)
	ListComments(ctx context.Context, boardID int64) ([]model.Comment, error)
	UpdateComment(ctx context.Context, c *model.Comment) error
	DeleteComment(ctx context.Context, id int64) error
}
