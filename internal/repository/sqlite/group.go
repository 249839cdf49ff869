package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

var _ repository.GroupRepository = (*GroupStore)(nil)

// GroupStore persists study groups and their memberships.
//
// A GroupStore returned by DB.Groups runs every statement on the pool. The
// store passed to the WithTx callback is bound to one transaction instead;
// inside the callback, use ONLY that store. With ":memory:" the pool has a
// single connection, so touching the pool while a transaction holds it
// blocks forever.
type GroupStore struct {
	db *DB
	q  queryer
}

// WithTx runs fn in a single transaction. A store that is already bound to
// a transaction runs fn directly on it, so nested calls join the outer
// transaction rather than opening a second one.
func (s *GroupStore) WithTx(ctx context.Context, fn func(repository.MembershipStore) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&GroupStore{db: s.db, q: tx})
	})
}

// =========================================================================
// GROUPS
// =========================================================================

// CreateGroup inserts g and fills in its ID and CreatedAt.
// The UNIQUE index on name turns a concurrent duplicate into DuplicateName.
func (s *GroupStore) CreateGroup(ctx context.Context, g *model.Group) error {
	g.CreatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO study_groups (name, description, created_at) VALUES (?, ?, ?)`,
		g.Name, g.Description, g.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.DuplicateName("group", g.Name)
		}
		return fmt.Errorf("sqlite: creating group: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new group id: %w", err)
	}
	g.ID = id
	return nil
}

// GetGroup retrieves a group by ID.
func (s *GroupStore) GetGroup(ctx context.Context, id int64) (*model.Group, error) {
	var g model.Group
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM study_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("group", id)
		}
		return nil, fmt.Errorf("sqlite: getting group %d: %w", id, err)
	}
	return &g, nil
}

// DeleteGroup removes the group. group_members rows go with it through
// ON DELETE CASCADE.
func (s *GroupStore) DeleteGroup(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM study_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting group %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("group", id))
}

// ListGroups returns groups whose name contains nameFilter, with the number
// of active (MEMBER or ADMIN) members. PENDING rows are filtered in the
// JOIN condition, not in WHERE, so a group with only pending requests still
// appears with a count of 0.
func (s *GroupStore) ListGroups(ctx context.Context, nameFilter string) ([]model.GroupSummary, error) {
	query := `
		SELECT g.id, g.name, g.description, g.created_at, COUNT(gm.id)
		FROM study_groups g
		LEFT JOIN group_members gm
		       ON gm.group_id = g.id AND gm.role IN ('MEMBER', 'ADMIN')`
	var args []any
	if nameFilter != "" {
		query += ` WHERE g.name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(nameFilter)+"%")
	}
	query += ` GROUP BY g.id ORDER BY g.id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing groups: %w", err)
	}
	defer rows.Close()

	groups := make([]model.GroupSummary, 0)
	for rows.Next() {
		var g model.GroupSummary
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.MemberCount); err != nil {
			return nil, fmt.Errorf("sqlite: scanning group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating group rows: %w", err)
	}
	return groups, nil
}

// ListGroupsForUser returns the groups where userID is MEMBER or ADMIN.
func (s *GroupStore) ListGroupsForUser(ctx context.Context, userID int64) ([]model.MyGroup, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT g.id, g.name, g.description, g.created_at, gm.role
		 FROM group_members gm
		 JOIN study_groups g ON g.id = gm.group_id
		 WHERE gm.user_id = ? AND gm.role IN ('MEMBER', 'ADMIN')
		 ORDER BY g.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing groups for user %d: %w", userID, err)
	}
	defer rows.Close()

	groups := make([]model.MyGroup, 0)
	for rows.Next() {
		var g model.MyGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt, &g.Role); err != nil {
			return nil, fmt.Errorf("sqlite: scanning group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating group rows: %w", err)
	}
	return groups, nil
}

// =========================================================================
// MEMBERSHIPS
// =========================================================================

// CreateMembership inserts m and fills in its ID and CreatedAt.
// UNIQUE(user_id, group_id) makes a second row for the same pair a Conflict.
func (s *GroupStore) CreateMembership(ctx context.Context, m *model.Membership) error {
	if !m.Role.Valid() {
		return apperror.ValidationFailed("role", fmt.Sprintf("invalid role %q", m.Role))
	}
	m.CreatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO group_members (user_id, group_id, role, created_at) VALUES (?, ?, ?, ?)`,
		m.UserID, m.GroupID, string(m.Role), m.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return apperror.Conflict("a membership or join request for this group already exists")
		case isForeignKeyViolation(err):
			return s.missingParent(ctx, m)
		}
		return fmt.Errorf("sqlite: creating membership: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new membership id: %w", err)
	}
	m.ID = id
	return nil
}

// missingParent names the row a membership insert pointed at but could not
// find. SQLite reports only "FOREIGN KEY constraint failed", so the group is
// looked up and the user is blamed when the group exists.
func (s *GroupStore) missingParent(ctx context.Context, m *model.Membership) error {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM study_groups WHERE id = ?)`, m.GroupID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: checking group %d: %w", m.GroupID, err)
	}
	if !exists {
		return apperror.NotFound("group", m.GroupID)
	}
	return apperror.NotFound("user", m.UserID)
}

const membershipColumns = `id, user_id, group_id, role, created_at`

func scanMembership(row *sql.Row) (*model.Membership, error) {
	var m model.Membership
	if err := row.Scan(&m.ID, &m.UserID, &m.GroupID, &m.Role, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMembership retrieves a membership (or join request) by its row ID.
func (s *GroupStore) GetMembership(ctx context.Context, id int64) (*model.Membership, error) {
	m, err := scanMembership(s.q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM group_members WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("membership", id)
		}
		return nil, fmt.Errorf("sqlite: getting membership %d: %w", id, err)
	}
	return m, nil
}

// FindMembership retrieves the row for (groupID, userID).
func (s *GroupStore) FindMembership(ctx context.Context, groupID, userID int64) (*model.Membership, error) {
	m, err := scanMembership(s.q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("membership", fmt.Sprintf("group=%d user=%d", groupID, userID))
		}
		return nil, fmt.Errorf("sqlite: finding membership (group=%d user=%d): %w", groupID, userID, err)
	}
	return m, nil
}

// RoleOf returns userID's role in groupID, or model.RoleNone when there is
// no row. This is the single lookup every authorization check goes through.
func (s *GroupStore) RoleOf(ctx context.Context, groupID, userID int64) (model.Role, error) {
	var role model.Role
	err := s.q.QueryRowContext(ctx,
		`SELECT role FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RoleNone, nil
		}
		return model.RoleNone, fmt.Errorf("sqlite: reading role (group=%d user=%d): %w", groupID, userID, err)
	}
	return role, nil
}

// SetRole overwrites the role of one membership row.
func (s *GroupStore) SetRole(ctx context.Context, membershipID int64, role model.Role) error {
	if !role.Valid() {
		return apperror.ValidationFailed("role", fmt.Sprintf("invalid role %q", role))
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE group_members SET role = ? WHERE id = ?`, string(role), membershipID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting role on membership %d: %w", membershipID, err)
	}
	return requireOneRow(res, apperror.NotFound("membership", membershipID))
}

// DeleteMembership removes one membership row.
func (s *GroupStore) DeleteMembership(ctx context.Context, membershipID int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM group_members WHERE id = ?`, membershipID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting membership %d: %w", membershipID, err)
	}
	return requireOneRow(res, apperror.NotFound("membership", membershipID))
}

// CountAdmins returns the number of ADMIN rows in groupID.
func (s *GroupStore) CountAdmins(ctx context.Context, groupID int64) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND role = 'ADMIN'`, groupID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting admins of group %d: %w", groupID, err)
	}
	return n, nil
}

// DeleteUser removes the user through the store's queryer, so inside WithTx
// the delete joins the caller's transaction.
func (s *GroupStore) DeleteUser(ctx context.Context, userID int64) error {
	return (&UserStore{q: s.q}).Delete(ctx, userID)
}

// ListPendingForUser returns userID's open join requests with the group name.
func (s *GroupStore) ListPendingForUser(ctx context.Context, userID int64) ([]model.UserJoinRequest, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT gm.id, g.id, g.name, gm.created_at
		 FROM group_members gm
		 JOIN study_groups g ON g.id = gm.group_id
		 WHERE gm.user_id = ? AND gm.role = 'PENDING'
		 ORDER BY gm.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing pending requests for user %d: %w", userID, err)
	}
	defer rows.Close()

	requests := make([]model.UserJoinRequest, 0)
	for rows.Next() {
		var r model.UserJoinRequest
		if err := rows.Scan(&r.ID, &r.GroupID, &r.GroupName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning join request row: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating join request rows: %w", err)
	}
	return requests, nil
}

// ListPendingForGroup returns groupID's open join requests with the
// requester's profile.
func (s *GroupStore) ListPendingForGroup(ctx context.Context, groupID int64) ([]model.GroupJoinRequest, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT gm.id, u.id, u.username, u.nickname, o.name, gm.created_at
		 FROM group_members gm
		 JOIN users u ON u.id = gm.user_id
		 JOIN occupations o ON o.id = u.occupation_id
		 WHERE gm.group_id = ? AND gm.role = 'PENDING'
		 ORDER BY gm.id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing pending requests for group %d: %w", groupID, err)
	}
	defer rows.Close()

	requests := make([]model.GroupJoinRequest, 0)
	for rows.Next() {
		var r model.GroupJoinRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Nickname, &r.OccupationName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning join request row: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating join request rows: %w", err)
	}
	return requests, nil
}

// ListActiveMembers returns the MEMBER and ADMIN rows of groupID.
func (s *GroupStore) ListActiveMembers(ctx context.Context, groupID int64) ([]model.Member, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT u.id, u.nickname, gm.role
		 FROM group_members gm
		 JOIN users u ON u.id = gm.user_id
		 WHERE gm.group_id = ? AND gm.role IN ('MEMBER', 'ADMIN')
		 ORDER BY gm.id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of group %d: %w", groupID, err)
	}
	defer rows.Close()

	members := make([]model.Member, 0)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.Nickname, &m.Role); err != nil {
			return nil, fmt.Errorf("sqlite: scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating member rows: %w", err)
	}
	return members, nil
}

// escapeLike escapes the LIKE wildcards so a filter of "50%" matches the
// literal text rather than "50 followed by anything".
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
