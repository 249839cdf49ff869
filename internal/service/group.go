package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

const (
	MaxGroupNameLength        = 50
	MaxGroupDescriptionLength = 500
)

// GroupService owns the membership state machine of a study group.
//
// MEMBERSHIP LIFECYCLE (one row per user and group):
//
//	          join request            approve
//	(none) ───────────────► PENDING ──────────► MEMBER ◄──► ADMIN
//	                           │                   (admin-only role change)
//	                           │ deny
//	                           ▼
//	                       (removed)
//
// Only MEMBER and ADMIN count as members. A row also disappears through
// withdrawal (never allowed for an ADMIN), removal by an ADMIN, or deletion
// of the whole group.
//
// AUTHORIZATION:
// Every check resolves the caller's role with ONE lookup keyed by
// (group, user). No row means model.RoleNone, which passes no check.
//
// TRANSACTIONS:
// Every method runs inside repo.WithTx. The store handed to the callback is
// the ONLY store used inside it, so the role check and the write it guards
// see the same snapshot and commit or roll back together.
type GroupService struct {
	repo   repository.GroupRepository
	logger *slog.Logger
}

// NewGroupService creates a GroupService.
func NewGroupService(repo repository.GroupRepository, logger *slog.Logger) *GroupService {
	return &GroupService{
		repo:   repo,
		logger: logger,
	}
}

// =========================================================================
// AUTHORIZATION HELPERS
// =========================================================================

// requireAdmin fails with Forbidden unless userID is an ADMIN of groupID.
func requireAdmin(ctx context.Context, st repository.MembershipStore, groupID, userID int64) error {
	role, err := st.RoleOf(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return apperror.Forbidden("only a group admin can do this")
	}
	return nil
}

// requireActive fails with Forbidden unless userID is a MEMBER or ADMIN of groupID.
func requireActive(ctx context.Context, st repository.MembershipStore, groupID, userID int64) error {
	role, err := st.RoleOf(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !role.IsActive() {
		return apperror.Forbidden("only group members can do this")
	}
	return nil
}

// findActive returns the MEMBER or ADMIN row of userID in groupID, or
// NotFound when there is no row or it is still PENDING.
func findActive(ctx context.Context, st repository.MembershipStore, groupID, userID int64) (*model.Membership, error) {
	m, err := st.FindMembership(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}
	if !m.Role.IsActive() {
		return nil, apperror.NotFound("member", userID)
	}
	return m, nil
}

// =========================================================================
// GROUPS
// =========================================================================

// CreateGroup creates a group and makes creatorID its first ADMIN.
// Both rows are written in one transaction: there is never a group
// without an admin.
func (s *GroupService) CreateGroup(ctx context.Context, name, description string, creatorID int64) (*model.Group, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)

	if name == "" {
		return nil, apperror.ValidationFailed("name", "group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("group name must be %d characters or less", MaxGroupNameLength))
	}
	if utf8.RuneCountInString(description) > MaxGroupDescriptionLength {
		return nil, apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxGroupDescriptionLength))
	}

	group := &model.Group{Name: name, Description: description}

	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := st.CreateGroup(ctx, group); err != nil {
			return err
		}
		return st.CreateMembership(ctx, &model.Membership{
			UserID:  creatorID,
			GroupID: group.ID,
			Role:    model.RoleAdmin,
		})
	})
	if err != nil {
		return nil, s.fail("creating group", err, slog.String("name", name))
	}

	s.logger.Info("group created",
		slog.Int64("groupID", group.ID),
		slog.String("name", group.Name),
		slog.Int64("creatorID", creatorID),
	)
	return group, nil
}

// DeleteGroup deletes a group and, by cascade, all of its memberships.
// Only an ADMIN of the group may do this.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := requireAdmin(ctx, st, groupID, actorID); err != nil {
			return err
		}
		return st.DeleteGroup(ctx, groupID)
	})
	if err != nil {
		return s.fail("deleting group", err, slog.Int64("groupID", groupID))
	}

	s.logger.Info("group deleted", slog.Int64("groupID", groupID), slog.Int64("actorID", actorID))
	return nil
}

// ListGroups lists groups whose name contains nameFilter (all groups when
// the filter is blank), each with its active member count.
func (s *GroupService) ListGroups(ctx context.Context, nameFilter string) ([]model.GroupSummary, error) {
	var groups []model.GroupSummary
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		var err error
		groups, err = st.ListGroups(ctx, strings.TrimSpace(nameFilter))
		return err
	})
	if err != nil {
		return nil, s.fail("listing groups", err)
	}
	return groups, nil
}

// ListMyGroups lists the groups where userID is an active member, with
// their role in each.
func (s *GroupService) ListMyGroups(ctx context.Context, userID int64) ([]model.MyGroup, error) {
	var groups []model.MyGroup
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		var err error
		groups, err = st.ListGroupsForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, s.fail("listing groups for user", err, slog.Int64("userID", userID))
	}
	return groups, nil
}

// =========================================================================
// JOIN REQUESTS
// =========================================================================

// RequestJoin files a PENDING membership for userID in groupID.
//
// A second request (or a request from someone who is already a member)
// is a Conflict: the UNIQUE(user_id, group_id) constraint allows one row
// per pair.
func (s *GroupService) RequestJoin(ctx context.Context, groupID, userID int64) (*model.Membership, error) {
	m := &model.Membership{UserID: userID, GroupID: groupID, Role: model.RolePending}

	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if _, err := st.GetGroup(ctx, groupID); err != nil {
			return err
		}
		return st.CreateMembership(ctx, m)
	})
	if err != nil {
		return nil, s.fail("requesting to join group", err,
			slog.Int64("groupID", groupID), slog.Int64("userID", userID))
	}

	s.logger.Info("join requested",
		slog.Int64("requestID", m.ID),
		slog.Int64("groupID", groupID),
		slog.Int64("userID", userID),
	)
	return m, nil
}

// findPending loads a join request and checks that it is still PENDING.
// An approved row is not a join request any more, so it is NotFound too.
func findPending(ctx context.Context, st repository.MembershipStore, requestID int64) (*model.Membership, error) {
	m, err := st.GetMembership(ctx, requestID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("join request", requestID)
		}
		return nil, err
	}
	if m.Role != model.RolePending {
		return nil, apperror.NotFound("join request", requestID)
	}
	return m, nil
}

// Approve turns a PENDING request into a MEMBER. The actor must be an
// ADMIN of the request's group. Approve never yields ADMIN.
func (s *GroupService) Approve(ctx context.Context, requestID, actorID int64) (*model.Membership, error) {
	var m *model.Membership
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		var err error
		if m, err = findPending(ctx, st, requestID); err != nil {
			return err
		}
		if err := requireAdmin(ctx, st, m.GroupID, actorID); err != nil {
			return err
		}
		if err := st.SetRole(ctx, m.ID, model.RoleMember); err != nil {
			return err
		}
		m.Role = model.RoleMember
		return nil
	})
	if err != nil {
		return nil, s.fail("approving join request", err, slog.Int64("requestID", requestID))
	}

	s.logger.Info("join request approved",
		slog.Int64("requestID", requestID),
		slog.Int64("groupID", m.GroupID),
		slog.Int64("actorID", actorID),
	)
	return m, nil
}

// Deny deletes a PENDING request. The actor must be an ADMIN of the
// request's group.
func (s *GroupService) Deny(ctx context.Context, requestID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		m, err := findPending(ctx, st, requestID)
		if err != nil {
			return err
		}
		if err := requireAdmin(ctx, st, m.GroupID, actorID); err != nil {
			return err
		}
		return st.DeleteMembership(ctx, m.ID)
	})
	if err != nil {
		return s.fail("denying join request", err, slog.Int64("requestID", requestID))
	}

	s.logger.Info("join request denied", slog.Int64("requestID", requestID), slog.Int64("actorID", actorID))
	return nil
}

// ListPendingForUser lists userID's own open join requests.
func (s *GroupService) ListPendingForUser(ctx context.Context, userID int64) ([]model.UserJoinRequest, error) {
	var requests []model.UserJoinRequest
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		var err error
		requests, err = st.ListPendingForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, s.fail("listing join requests for user", err, slog.Int64("userID", userID))
	}
	return requests, nil
}

// ListPendingForGroup lists a group's open join requests. ADMIN only.
func (s *GroupService) ListPendingForGroup(ctx context.Context, groupID, actorID int64) ([]model.GroupJoinRequest, error) {
	var requests []model.GroupJoinRequest
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := requireAdmin(ctx, st, groupID, actorID); err != nil {
			return err
		}
		var err error
		requests, err = st.ListPendingForGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, s.fail("listing join requests for group", err, slog.Int64("groupID", groupID))
	}
	return requests, nil
}

// =========================================================================
// MEMBERS
// =========================================================================

// ListActiveMembers lists the MEMBER and ADMIN rows of a group. Only an
// active member may see the list.
func (s *GroupService) ListActiveMembers(ctx context.Context, groupID, actorID int64) ([]model.Member, error) {
	var members []model.Member
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := requireActive(ctx, st, groupID, actorID); err != nil {
			return err
		}
		var err error
		members, err = st.ListActiveMembers(ctx, groupID)
		return err
	})
	if err != nil {
		return nil, s.fail("listing members", err, slog.Int64("groupID", groupID))
	}
	return members, nil
}

// Withdraw removes the actor's own row from a group. A PENDING row may be
// withdrawn too, which cancels the request. An ADMIN cannot withdraw: they
// must hand the role over or delete the group.
func (s *GroupService) Withdraw(ctx context.Context, groupID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		m, err := st.FindMembership(ctx, groupID, actorID)
		if err != nil {
			return err
		}
		if m.Role == model.RoleAdmin {
			return apperror.Forbidden("an admin cannot leave the group; hand over the admin role or delete the group")
		}
		return st.DeleteMembership(ctx, m.ID)
	})
	if err != nil {
		return s.fail("withdrawing from group", err,
			slog.Int64("groupID", groupID), slog.Int64("userID", actorID))
	}

	s.logger.Info("member withdrew", slog.Int64("groupID", groupID), slog.Int64("userID", actorID))
	return nil
}

// RemoveMember lets an ADMIN remove another active member.
// The role check runs first: a non-admin always gets Forbidden.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, targetID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := requireAdmin(ctx, st, groupID, actorID); err != nil {
			return err
		}
		if targetID == actorID {
			return apperror.Forbidden("an admin cannot remove themselves")
		}
		m, err := findActive(ctx, st, groupID, targetID)
		if err != nil {
			return err
		}
		return st.DeleteMembership(ctx, m.ID)
	})
	if err != nil {
		return s.fail("removing member", err,
			slog.Int64("groupID", groupID), slog.Int64("targetID", targetID))
	}

	s.logger.Info("member removed",
		slog.Int64("groupID", groupID),
		slog.Int64("targetID", targetID),
		slog.Int64("actorID", actorID),
	)
	return nil
}

// SetRole changes an active member's role to MEMBER or ADMIN. ADMIN only.
//
// It reports whether anything changed: setting the role a member already
// has is a no-op, not an error. Demoting the group's last ADMIN is a
// Conflict, so every group always keeps at least one admin.
func (s *GroupService) SetRole(ctx context.Context, groupID, targetID int64, newRole model.Role, actorID int64) (bool, error) {
	changed := false
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		if err := requireAdmin(ctx, st, groupID, actorID); err != nil {
			return err
		}
		if newRole != model.RoleMember && newRole != model.RoleAdmin {
			return apperror.ValidationFailed("role", "role must be MEMBER or ADMIN")
		}
		m, err := findActive(ctx, st, groupID, targetID)
		if err != nil {
			return err
		}
		if m.Role == newRole {
			return nil
		}
		if m.Role == model.RoleAdmin {
			admins, err := st.CountAdmins(ctx, groupID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return apperror.Conflict("a group must keep at least one admin")
			}
		}
		if err := st.SetRole(ctx, m.ID, newRole); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, s.fail("changing member role", err,
			slog.Int64("groupID", groupID), slog.Int64("targetID", targetID))
	}

	if changed {
		s.logger.Info("member role changed",
			slog.Int64("groupID", groupID),
			slog.Int64("targetID", targetID),
			slog.String("role", string(newRole)),
			slog.Int64("actorID", actorID),
		)
	}
	return changed, nil
}

// =========================================================================
// ACCOUNT WITHDRAWAL
// =========================================================================

// CloseAccount deletes userID's account after settling the groups they
// administer, all in one transaction:
//
//   - a group with another ADMIN is left alone
//   - a group where the user is the only active member is deleted, along
//     with any pending requests
//   - a group where the user is the only ADMIN but not the only active
//     member blocks the withdrawal with a Conflict
//
// so no group is ever left without an admin.
func (s *GroupService) CloseAccount(ctx context.Context, userID int64) error {
	var dropped []int64
	err := s.repo.WithTx(ctx, func(st repository.MembershipStore) error {
		groups, err := st.ListGroupsForUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if g.Role != model.RoleAdmin {
				continue
			}
			admins, err := st.CountAdmins(ctx, g.ID)
			if err != nil {
				return err
			}
			if admins > 1 {
				continue
			}
			members, err := st.ListActiveMembers(ctx, g.ID)
			if err != nil {
				return err
			}
			if len(members) > 1 {
				return apperror.Conflict(fmt.Sprintf(
					"you are the only admin of %q; make another member an admin or delete the group first", g.Name))
			}
			if err := st.DeleteGroup(ctx, g.ID); err != nil {
				return err
			}
			dropped = append(dropped, g.ID)
		}
		return st.DeleteUser(ctx, userID)
	})
	if err != nil {
		return s.fail("closing account", err, slog.Int64("userID", userID))
	}

	for _, id := range dropped {
		s.logger.Info("group deleted with its last member", slog.Int64("groupID", id), slog.Int64("userID", userID))
	}
	return nil
}

// fail logs unexpected storage errors and wraps every error with op.
// apperror kinds are expected outcomes, so they are not logged here.
func (s *GroupService) fail(op string, err error, attrs ...any) error {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("group operation failed",
			append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)...,
		)
	}
	return fmt.Errorf("%s: %w", op, err)
}
