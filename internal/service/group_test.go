package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

// =========================================================================
// FAKE GROUP REPOSITORY
// =========================================================================
//
// fakeGroupRepo keeps groups and memberships in maps and mimics the
// constraints the SQLite schema enforces: unique group names, one row per
// (user, group), and cascading deletes. WithTx snapshots the maps and
// restores them when the callback fails, so rollback is observable.

type fakeGroupRepo struct {
	groups       map[int64]model.Group
	members      map[int64]model.Membership
	nicknames    map[int64]string
	deletedUsers map[int64]bool
	nextGroupID  int64
	nextMemberID int64

	// failOn makes the named method return failErr.
	failOn  string
	failErr error

	txCount int
}

var _ repository.GroupRepository = (*fakeGroupRepo)(nil)

func newFakeGroupRepo() *fakeGroupRepo {
	return &fakeGroupRepo{
		groups:       make(map[int64]model.Group),
		members:      make(map[int64]model.Membership),
		nicknames:    make(map[int64]string),
		deletedUsers: make(map[int64]bool),
	}
}

func (f *fakeGroupRepo) fail(method string) error {
	if f.failOn == method {
		return f.failErr
	}
	return nil
}

func (f *fakeGroupRepo) WithTx(_ context.Context, fn func(repository.MembershipStore) error) error {
	f.txCount++

	groups := make(map[int64]model.Group, len(f.groups))
	for k, v := range f.groups {
		groups[k] = v
	}
	members := make(map[int64]model.Membership, len(f.members))
	for k, v := range f.members {
		members[k] = v
	}

	deleted := make(map[int64]bool, len(f.deletedUsers))
	for k, v := range f.deletedUsers {
		deleted[k] = v
	}

	if err := fn(f); err != nil {
		f.groups = groups
		f.members = members
		f.deletedUsers = deleted
		return err
	}
	return nil
}

func (f *fakeGroupRepo) CreateGroup(_ context.Context, g *model.Group) error {
	if err := f.fail("CreateGroup"); err != nil {
		return err
	}
	for _, existing := range f.groups {
		if existing.Name == g.Name {
			return apperror.DuplicateName("group", g.Name)
		}
	}
	f.nextGroupID++
	g.ID = f.nextGroupID
	g.CreatedAt = time.Now()
	f.groups[g.ID] = *g
	return nil
}

func (f *fakeGroupRepo) GetGroup(_ context.Context, id int64) (*model.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return nil, apperror.NotFound("group", id)
	}
	return &g, nil
}

func (f *fakeGroupRepo) DeleteGroup(_ context.Context, id int64) error {
	if _, ok := f.groups[id]; !ok {
		return apperror.NotFound("group", id)
	}
	delete(f.groups, id)
	for mid, m := range f.members {
		if m.GroupID == id {
			delete(f.members, mid)
		}
	}
	return nil
}

func (f *fakeGroupRepo) activeCount(groupID int64) int {
	n := 0
	for _, m := range f.members {
		if m.GroupID == groupID && m.Role.IsActive() {
			n++
		}
	}
	return n
}

func (f *fakeGroupRepo) ListGroups(_ context.Context, nameFilter string) ([]model.GroupSummary, error) {
	if err := f.fail("ListGroups"); err != nil {
		return nil, err
	}
	out := make([]model.GroupSummary, 0)
	for _, g := range f.groups {
		if nameFilter != "" && !strings.Contains(strings.ToLower(g.Name), strings.ToLower(nameFilter)) {
			continue
		}
		out = append(out, model.GroupSummary{Group: g, MemberCount: f.activeCount(g.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGroupRepo) ListGroupsForUser(_ context.Context, userID int64) ([]model.MyGroup, error) {
	out := make([]model.MyGroup, 0)
	for _, m := range f.members {
		if m.UserID == userID && m.Role.IsActive() {
			out = append(out, model.MyGroup{Group: f.groups[m.GroupID], Role: m.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGroupRepo) CreateMembership(_ context.Context, m *model.Membership) error {
	if err := f.fail("CreateMembership"); err != nil {
		return err
	}
	if _, ok := f.groups[m.GroupID]; !ok {
		return apperror.NotFound("group", m.GroupID)
	}
	for _, existing := range f.members {
		if existing.GroupID == m.GroupID && existing.UserID == m.UserID {
			return apperror.Conflict("a membership or join request for this group already exists")
		}
	}
	f.nextMemberID++
	m.ID = f.nextMemberID
	m.CreatedAt = time.Now()
	f.members[m.ID] = *m
	return nil
}

func (f *fakeGroupRepo) GetMembership(_ context.Context, id int64) (*model.Membership, error) {
	m, ok := f.members[id]
	if !ok {
		return nil, apperror.NotFound("membership", id)
	}
	return &m, nil
}

func (f *fakeGroupRepo) FindMembership(_ context.Context, groupID, userID int64) (*model.Membership, error) {
	for _, m := range f.members {
		if m.GroupID == groupID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, apperror.NotFound("membership", userID)
}

func (f *fakeGroupRepo) RoleOf(_ context.Context, groupID, userID int64) (model.Role, error) {
	if err := f.fail("RoleOf"); err != nil {
		return model.RoleNone, err
	}
	for _, m := range f.members {
		if m.GroupID == groupID && m.UserID == userID {
			return m.Role, nil
		}
	}
	return model.RoleNone, nil
}

func (f *fakeGroupRepo) SetRole(_ context.Context, membershipID int64, role model.Role) error {
	m, ok := f.members[membershipID]
	if !ok {
		return apperror.NotFound("membership", membershipID)
	}
	m.Role = role
	f.members[membershipID] = m
	return nil
}

func (f *fakeGroupRepo) DeleteMembership(_ context.Context, membershipID int64) error {
	if _, ok := f.members[membershipID]; !ok {
		return apperror.NotFound("membership", membershipID)
	}
	delete(f.members, membershipID)
	return nil
}

func (f *fakeGroupRepo) CountAdmins(_ context.Context, groupID int64) (int, error) {
	n := 0
	for _, m := range f.members {
		if m.GroupID == groupID && m.Role == model.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (f *fakeGroupRepo) DeleteUser(_ context.Context, userID int64) error {
	if err := f.fail("DeleteUser"); err != nil {
		return err
	}
	if f.deletedUsers[userID] {
		return apperror.NotFound("user", userID)
	}
	f.deletedUsers[userID] = true
	for id, m := range f.members {
		if m.UserID == userID {
			delete(f.members, id)
		}
	}
	return nil
}

func (f *fakeGroupRepo) ListPendingForUser(_ context.Context, userID int64) ([]model.UserJoinRequest, error) {
	out := make([]model.UserJoinRequest, 0)
	for _, m := range f.members {
		if m.UserID == userID && m.Role == model.RolePending {
			out = append(out, model.UserJoinRequest{
				ID: m.ID, GroupID: m.GroupID, GroupName: f.groups[m.GroupID].Name, CreatedAt: m.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGroupRepo) ListPendingForGroup(_ context.Context, groupID int64) ([]model.GroupJoinRequest, error) {
	out := make([]model.GroupJoinRequest, 0)
	for _, m := range f.members {
		if m.GroupID == groupID && m.Role == model.RolePending {
			out = append(out, model.GroupJoinRequest{
				ID: m.ID, UserID: m.UserID, Nickname: f.nicknames[m.UserID], CreatedAt: m.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeGroupRepo) ListActiveMembers(_ context.Context, groupID int64) ([]model.Member, error) {
	ids := make([]int64, 0)
	for id, m := range f.members {
		if m.GroupID == groupID && m.Role.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		m := f.members[id]
		out = append(out, model.Member{UserID: m.UserID, Nickname: f.nicknames[m.UserID], Role: m.Role})
	}
	return out, nil
}

// rowsFor returns every membership row of groupID, in any role.
func (f *fakeGroupRepo) rowsFor(groupID int64) []model.Membership {
	out := make([]model.Membership, 0)
	for _, m := range f.members {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out
}

// =========================================================================
// TEST HELPERS
// =========================================================================

// User IDs used throughout: alice creates groups, bob and carol join them.
const (
	alice int64 = 1
	bob   int64 = 2
	carol int64 = 3
)

func newTestGroupService(t *testing.T) (*GroupService, *fakeGroupRepo) {
	t.Helper()
	repo := newFakeGroupRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGroupService(repo, logger), repo
}

func mustCreateGroup(t *testing.T, svc *GroupService, name string, creator int64) *model.Group {
	t.Helper()
	g, err := svc.CreateGroup(context.Background(), name, "", creator)
	require.NoError(t, err)
	return g
}

// mustJoinAs puts user into group with the given active role via the public
// request/approve/promote path.
func mustJoinAs(t *testing.T, svc *GroupService, g *model.Group, admin, user int64, role model.Role) {
	t.Helper()
	ctx := context.Background()
	req, err := svc.RequestJoin(ctx, g.ID, user)
	require.NoError(t, err)
	if role == model.RolePending {
		return
	}
	_, err = svc.Approve(ctx, req.ID, admin)
	require.NoError(t, err)
	if role == model.RoleAdmin {
		_, err = svc.SetRole(ctx, g.ID, user, model.RoleAdmin, admin)
		require.NoError(t, err)
	}
}

func memberCount(t *testing.T, svc *GroupService, name string) int {
	t.Helper()
	groups, err := svc.ListGroups(context.Background(), name)
	require.NoError(t, err)
	for _, g := range groups {
		if g.Name == name {
			return g.MemberCount
		}
	}
	t.Fatalf("group %q not listed", name)
	return 0
}

// =========================================================================
// CREATE GROUP
// =========================================================================

func TestCreateGroup_CreatorIsSoleAdmin(t *testing.T) {
	svc, repo := newTestGroupService(t)

	g, err := svc.CreateGroup(context.Background(), "  Algo  ", " weekly problems ", alice)
	require.NoError(t, err)

	assert.Equal(t, "Algo", g.Name, "name is trimmed")
	assert.Equal(t, "weekly problems", g.Description)

	rows := repo.rowsFor(g.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, alice, rows[0].UserID)
	assert.Equal(t, model.RoleAdmin, rows[0].Role)
	assert.Equal(t, 1, memberCount(t, svc, "Algo"))
}

func TestCreateGroup_DuplicateName(t *testing.T) {
	svc, _ := newTestGroupService(t)
	mustCreateGroup(t, svc, "Algo", alice)

	_, err := svc.CreateGroup(context.Background(), "Algo", "", bob)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	groups, err := svc.ListGroups(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}

func TestCreateGroup_Validation(t *testing.T) {
	svc, repo := newTestGroupService(t)

	tests := []struct {
		name        string
		groupName   string
		description string
		field       string
	}{
		{"empty name", "", "", "name"},
		{"whitespace name", "   ", "", "name"},
		{"name too long", strings.Repeat("a", MaxGroupNameLength+1), "", "name"},
		{"description too long", "ok", strings.Repeat("d", MaxGroupDescriptionLength+1), "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateGroup(context.Background(), tt.groupName, tt.description, alice)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
	assert.Empty(t, repo.groups)
}

func TestCreateGroup_NameLengthCountsRunes(t *testing.T) {
	svc, _ := newTestGroupService(t)

	// 50 three-byte runes: too long in bytes, fine in characters.
	_, err := svc.CreateGroup(context.Background(), strings.Repeat("알", MaxGroupNameLength), "", alice)
	assert.NoError(t, err)
}

func TestCreateGroup_RollsBackWhenMembershipFails(t *testing.T) {
	svc, repo := newTestGroupService(t)
	repo.failOn = "CreateMembership"
	repo.failErr = errors.New("disk full")

	_, err := svc.CreateGroup(context.Background(), "Algo", "", alice)
	require.Error(t, err)
	assert.Empty(t, repo.groups, "a group must never exist without its admin row")
}

// =========================================================================
// REQUEST / APPROVE / DENY
// =========================================================================

func TestRequestJoin_CreatesPendingRowNotCounted(t *testing.T) {
	svc, _ := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)

	req, err := svc.RequestJoin(context.Background(), g.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, model.RolePending, req.Role)
	assert.Equal(t, 1, memberCount(t, svc, "Algo"))
}

func TestRequestJoin_MissingGroup(t *testing.T) {
	svc, repo := newTestGroupService(t)

	_, err := svc.RequestJoin(context.Background(), 999, bob)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, repo.members)
}

func TestRequestJoin_Duplicate(t *testing.T) {
	svc, _ := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RolePending)

	_, err := svc.RequestJoin(context.Background(), g.ID, bob)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	// An existing member (here the admin) cannot file a request either.
	_, err = svc.RequestJoin(context.Background(), g.ID, alice)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestApprove(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	req, err := svc.RequestJoin(context.Background(), g.ID, bob)
	require.NoError(t, err)

	m, err := svc.Approve(context.Background(), req.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, m.Role)
	assert.Equal(t, model.RoleMember, repo.members[req.ID].Role)
	assert.Equal(t, 2, memberCount(t, svc, "Algo"))
}

func TestApprove_NotPendingIsNotFound(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)

	bobRow, err := repo.FindMembership(context.Background(), g.ID, bob)
	require.NoError(t, err)
	aliceRow, err := repo.FindMembership(context.Background(), g.ID, alice)
	require.NoError(t, err)

	tests := []struct {
		name      string
		requestID int64
	}{
		{"already a member", bobRow.ID},
		{"admin row", aliceRow.ID},
		{"missing id", 999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Approve(context.Background(), tt.requestID, alice)
			assert.ErrorIs(t, err, apperror.ErrNotFound)
		})
	}

	// Approving never promotes: bob is still MEMBER, alice still ADMIN.
	assert.Equal(t, model.RoleMember, repo.members[bobRow.ID].Role)
	assert.Equal(t, model.RoleAdmin, repo.members[aliceRow.ID].Role)
}

func TestApprove_NonAdminForbidden(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	req, err := svc.RequestJoin(context.Background(), g.ID, carol)
	require.NoError(t, err)

	for _, actor := range []int64{bob, carol, 99} {
		_, err := svc.Approve(context.Background(), req.ID, actor)
		assert.ErrorIs(t, err, apperror.ErrForbidden, "actor %d", actor)
	}
	assert.Equal(t, model.RolePending, repo.members[req.ID].Role)
}

func TestApprove_AdminOfAnotherGroupForbidden(t *testing.T) {
	svc, _ := newTestGroupService(t)
	algo := mustCreateGroup(t, svc, "Algo", alice)
	mustCreateGroup(t, svc, "Databases", bob)
	req, err := svc.RequestJoin(context.Background(), algo.ID, carol)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), req.ID, bob)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestDeny(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	req, err := svc.RequestJoin(context.Background(), g.ID, bob)
	require.NoError(t, err)

	require.NoError(t, svc.Deny(context.Background(), req.ID, alice))
	_, exists := repo.members[req.ID]
	assert.False(t, exists)

	// Denied once, it is gone.
	assert.ErrorIs(t, svc.Deny(context.Background(), req.ID, alice), apperror.ErrNotFound)
}

func TestDeny_Guards(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	req, err := svc.RequestJoin(context.Background(), g.ID, carol)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Deny(context.Background(), req.ID, bob), apperror.ErrForbidden)

	// Deny only works on join requests; it cannot be used to kick a member.
	bobRow, _ := repo.FindMembership(context.Background(), g.ID, bob)
	assert.ErrorIs(t, svc.Deny(context.Background(), bobRow.ID, alice), apperror.ErrNotFound)
	assert.Len(t, repo.rowsFor(g.ID), 3)
}

func TestListPending(t *testing.T) {
	svc, repo := newTestGroupService(t)
	repo.nicknames[bob] = "bobby"
	algo := mustCreateGroup(t, svc, "Algo", alice)
	dbs := mustCreateGroup(t, svc, "Databases", alice)
	mustJoinAs(t, svc, algo, alice, bob, model.RolePending)
	mustJoinAs(t, svc, dbs, alice, bob, model.RoleMember)

	mine, err := svc.ListPendingForUser(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Algo", mine[0].GroupName)

	forGroup, err := svc.ListPendingForGroup(context.Background(), algo.ID, alice)
	require.NoError(t, err)
	require.Len(t, forGroup, 1)
	assert.Equal(t, bob, forGroup[0].UserID)
	assert.Equal(t, "bobby", forGroup[0].Nickname)
}

// =========================================================================
// ADMIN-ONLY OPERATIONS: a non-admin is always Forbidden
// =========================================================================

func TestAdminOnlyOperations_NonAdminForbidden(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)
	const stranger int64 = 42

	ctx := context.Background()
	ops := map[string]func(actor int64) error{
		"RemoveMember": func(actor int64) error {
			return svc.RemoveMember(ctx, g.ID, alice, actor)
		},
		"RemoveMember with missing target": func(actor int64) error {
			return svc.RemoveMember(ctx, g.ID, 999, actor)
		},
		"SetRole": func(actor int64) error {
			_, err := svc.SetRole(ctx, g.ID, bob, model.RoleAdmin, actor)
			return err
		},
		"SetRole with invalid role": func(actor int64) error {
			_, err := svc.SetRole(ctx, g.ID, bob, model.Role("OWNER"), actor)
			return err
		},
		"DeleteGroup": func(actor int64) error {
			return svc.DeleteGroup(ctx, g.ID, actor)
		},
		"ListPendingForGroup": func(actor int64) error {
			_, err := svc.ListPendingForGroup(ctx, g.ID, actor)
			return err
		},
	}

	for name, op := range ops {
		for _, actor := range []int64{bob, carol, stranger} {
			t.Run(name, func(t *testing.T) {
				assert.ErrorIs(t, op(actor), apperror.ErrForbidden, "actor %d", actor)
			})
		}
	}

	// Nothing changed.
	assert.Len(t, repo.rowsFor(g.ID), 3)
	assert.Equal(t, model.RoleMember, mustRole(t, repo, g.ID, bob))
}

func mustRole(t *testing.T, repo *fakeGroupRepo, groupID, userID int64) model.Role {
	t.Helper()
	role, err := repo.RoleOf(context.Background(), groupID, userID)
	require.NoError(t, err)
	return role
}

func TestDeleteGroup_MissingGroupIsForbidden(t *testing.T) {
	svc, _ := newTestGroupService(t)

	// No row for the actor, so the role check fails before anything else.
	assert.ErrorIs(t, svc.DeleteGroup(context.Background(), 999, alice), apperror.ErrForbidden)
}

func TestDeleteGroup_RemovesMemberships(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)

	require.NoError(t, svc.DeleteGroup(context.Background(), g.ID, alice))

	assert.Empty(t, repo.groups)
	assert.Empty(t, repo.rowsFor(g.ID))
}

// =========================================================================
// MEMBERS
// =========================================================================

func TestListActiveMembers(t *testing.T) {
	svc, _ := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)

	members, err := svc.ListActiveMembers(context.Background(), g.ID, bob)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, alice, members[0].UserID)
	assert.Equal(t, model.RoleAdmin, members[0].Role)
	assert.Equal(t, bob, members[1].UserID)

	_, err = svc.ListActiveMembers(context.Background(), g.ID, carol)
	assert.ErrorIs(t, err, apperror.ErrForbidden, "a pending user is not a member yet")

	_, err = svc.ListActiveMembers(context.Background(), g.ID, 42)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}

func TestGroupWithdraw(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)

	t.Run("admin cannot withdraw", func(t *testing.T) {
		assert.ErrorIs(t, svc.Withdraw(context.Background(), g.ID, alice), apperror.ErrForbidden)
		assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, alice))
	})

	t.Run("member removes exactly their own row", func(t *testing.T) {
		before := len(repo.rowsFor(g.ID))
		require.NoError(t, svc.Withdraw(context.Background(), g.ID, bob))
		assert.Len(t, repo.rowsFor(g.ID), before-1)
		assert.Equal(t, model.RoleNone, mustRole(t, repo, g.ID, bob))
	})

	t.Run("pending user cancels their request", func(t *testing.T) {
		require.NoError(t, svc.Withdraw(context.Background(), g.ID, carol))
		assert.Equal(t, model.RoleNone, mustRole(t, repo, g.ID, carol))
	})

	t.Run("no row is NotFound", func(t *testing.T) {
		assert.ErrorIs(t, svc.Withdraw(context.Background(), g.ID, bob), apperror.ErrNotFound)
	})
}

func TestRemoveMember(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RemoveMember(ctx, g.ID, alice, alice), apperror.ErrForbidden, "self-removal")
	assert.ErrorIs(t, svc.RemoveMember(ctx, g.ID, carol, alice), apperror.ErrNotFound, "pending target")
	assert.ErrorIs(t, svc.RemoveMember(ctx, g.ID, 999, alice), apperror.ErrNotFound, "no row")

	require.NoError(t, svc.RemoveMember(ctx, g.ID, bob, alice))
	assert.Equal(t, model.RoleNone, mustRole(t, repo, g.ID, bob))
	assert.Equal(t, model.RolePending, mustRole(t, repo, g.ID, carol))
}

func TestRemoveMember_AdminCanRemoveOtherAdmin(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleAdmin)

	require.NoError(t, svc.RemoveMember(context.Background(), g.ID, alice, bob))
	assert.Equal(t, model.RoleNone, mustRole(t, repo, g.ID, alice))
}

// =========================================================================
// SET ROLE
// =========================================================================

func TestSetRole(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, g, alice, carol, model.RolePending)
	ctx := context.Background()

	t.Run("invalid role", func(t *testing.T) {
		for _, r := range []model.Role{model.RolePending, model.RoleNone, "OWNER"} {
			_, err := svc.SetRole(ctx, g.ID, bob, r, alice)
			assert.ErrorIs(t, err, apperror.ErrValidation, "role %q", r)
		}
	})

	t.Run("pending target is NotFound", func(t *testing.T) {
		_, err := svc.SetRole(ctx, g.ID, carol, model.RoleMember, alice)
		assert.ErrorIs(t, err, apperror.ErrNotFound)
		assert.Equal(t, model.RolePending, mustRole(t, repo, g.ID, carol))
	})

	t.Run("same role is a no-op", func(t *testing.T) {
		changed, err := svc.SetRole(ctx, g.ID, bob, model.RoleMember, alice)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("last admin cannot be demoted", func(t *testing.T) {
		_, err := svc.SetRole(ctx, g.ID, alice, model.RoleMember, alice)
		assert.ErrorIs(t, err, apperror.ErrConflict)
		assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, alice))
	})

	t.Run("promote", func(t *testing.T) {
		changed, err := svc.SetRole(ctx, g.ID, bob, model.RoleAdmin, alice)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, bob))
	})

	t.Run("demote once another admin exists", func(t *testing.T) {
		changed, err := svc.SetRole(ctx, g.ID, alice, model.RoleMember, bob)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, model.RoleMember, mustRole(t, repo, g.ID, alice))
	})
}

// =========================================================================
// LISTING
// =========================================================================

func TestListGroups_FilterAndCounts(t *testing.T) {
	svc, _ := newTestGroupService(t)
	algo := mustCreateGroup(t, svc, "Algorithms", alice)
	mustCreateGroup(t, svc, "Databases", bob)
	mustJoinAs(t, svc, algo, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, algo, alice, carol, model.RolePending)

	all, err := svc.ListGroups(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := svc.ListGroups(context.Background(), "  algo ")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, 2, filtered[0].MemberCount)
}

func TestListMyGroups(t *testing.T) {
	svc, _ := newTestGroupService(t)
	algo := mustCreateGroup(t, svc, "Algo", alice)
	dbs := mustCreateGroup(t, svc, "Databases", alice)
	mustJoinAs(t, svc, algo, alice, bob, model.RoleMember)
	mustJoinAs(t, svc, dbs, alice, bob, model.RolePending)

	mine, err := svc.ListMyGroups(context.Background(), bob)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Algo", mine[0].Name)
	assert.Equal(t, model.RoleMember, mine[0].Role)
}

// =========================================================================
// TRANSACTIONS AND STORAGE ERRORS
// =========================================================================

func TestEveryOperationRunsInATransaction(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)

	before := repo.txCount
	_, _ = svc.ListGroups(context.Background(), "")
	_, _ = svc.ListActiveMembers(context.Background(), g.ID, alice)
	_ = svc.Withdraw(context.Background(), g.ID, bob)
	assert.Equal(t, before+3, repo.txCount)
}

func TestStorageErrorIsWrapped(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	dbDown := errors.New("database is locked")
	repo.failOn = "RoleOf"
	repo.failErr = dbDown

	err := svc.DeleteGroup(context.Background(), g.ID, alice)
	require.ErrorIs(t, err, dbDown)
	assert.Contains(t, err.Error(), "deleting group")

	var appErr *apperror.AppError
	assert.False(t, errors.As(err, &appErr), "storage failures are not domain errors")
	assert.Len(t, repo.groups, 1)
}

// =========================================================================
// SCENARIO "Algo"
// =========================================================================

func TestScenario_Algo(t *testing.T) {
	svc, repo := newTestGroupService(t)
	ctx := context.Background()

	// A creates "Algo": one member.
	g := mustCreateGroup(t, svc, "Algo", alice)
	assert.Equal(t, 1, memberCount(t, svc, "Algo"))

	// B requests: PENDING, still one member.
	req, err := svc.RequestJoin(ctx, g.ID, bob)
	require.NoError(t, err)
	assert.Equal(t, model.RolePending, mustRole(t, repo, g.ID, bob))
	assert.Equal(t, 1, memberCount(t, svc, "Algo"))

	// A approves: two members.
	_, err = svc.Approve(ctx, req.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 2, memberCount(t, svc, "Algo"))

	// A promotes B: both ADMIN.
	changed, err := svc.SetRole(ctx, g.ID, bob, model.RoleAdmin, alice)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, alice))
	assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, bob))

	// B deletes the group.
	require.NoError(t, svc.DeleteGroup(ctx, g.ID, bob))
	groups, err := svc.ListGroups(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Empty(t, repo.members)
}

// =========================================================================
// ACCOUNT WITHDRAWAL
// =========================================================================

func TestCloseAccount_SoleAdminWithMembersIsConflict(t *testing.T) {
	svc, repo := newTestGroupService(t)
	g := mustCreateGroup(t, svc, "Algo", alice)
	mustJoinAs(t, svc, g, alice, bob, model.RoleMember)

	err := svc.CloseAccount(context.Background(), alice)
	require.ErrorIs(t, err, apperror.ErrConflict)
	assert.Contains(t, err.Error(), `"Algo"`)

	// Nothing changed: the account and the admin row are still there.
	assert.False(t, repo.deletedUsers[alice])
	assert.Equal(t, model.RoleAdmin, mustRole(t, repo, g.ID, alice))
	assert.Equal(t, 2, memberCount(t, svc, "Algo"))

	// Once Bob is an admin too, Alice can leave and Bob runs the group.
	_, err = svc.SetRole(context.Background(), g.ID, bob, model.RoleAdmin, alice)
	require.NoError(t, err)
	require.NoError(t, svc.CloseAccount(context.Background(), alice))

	assert.True(t, repo.deletedUsers[alice])
	assert.Equal(t, model.RoleNone, mustRole(t, repo, g.ID, alice))
	require.NoError(t, svc.DeleteGroup(context.Background(), g.ID, bob))
}

func TestCloseAccount_DeletesGroupsWithNoOtherMembers(t *testing.T) {
	svc, repo := newTestGroupService(t)
	solo := mustCreateGroup(t, svc, "Solo", alice)
	mustJoinAs(t, svc, solo, alice, carol, model.RolePending)
	shared := mustCreateGroup(t, svc, "Shared", bob)
	mustJoinAs(t, svc, shared, bob, alice, model.RoleMember)

	require.NoError(t, svc.CloseAccount(context.Background(), alice))

	_, ok := repo.groups[solo.ID]
	assert.False(t, ok, "a group whose only active member leaves is deleted")
	assert.Empty(t, repo.rowsFor(solo.ID), "its pending requests go with it")

	_, ok = repo.groups[shared.ID]
	assert.True(t, ok, "groups the user merely belongs to survive")
	assert.Equal(t, 1, memberCount(t, svc, "Shared"))
	assert.True(t, repo.deletedUsers[alice])
}

func TestCloseAccount_RollsBackOnStorageError(t *testing.T) {
	svc, repo := newTestGroupService(t)
	solo := mustCreateGroup(t, svc, "Solo", alice)

	repo.failOn = "DeleteUser"
	repo.failErr = errors.New("disk I/O error")

	err := svc.CloseAccount(context.Background(), alice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closing account")

	_, ok := repo.groups[solo.ID]
	assert.True(t, ok, "the group delete is rolled back with the failed user delete")
	assert.Equal(t, model.RoleAdmin, mustRole(t, repo, solo.ID, alice))
}
