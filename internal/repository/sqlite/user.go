package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore persists users, their refresh tokens and occupations.
type UserStore struct {
	q queryer
}

// userColumns is shared by every SELECT so scanUser always sees the same order.
// The occupation name is joined in; users.occupation_id is NOT NULL, so an
// inner join never drops a user.
const userColumns = `
	u.id, u.username, u.nickname, u.email, u.password_hash,
	u.occupation_id, o.name, u.refresh_token, u.created_at, u.modified_at`

const userFrom = `
	FROM users u
	JOIN occupations o ON o.id = u.occupation_id`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Nickname,
		&u.Email,
		&u.PasswordHash,
		&u.OccupationID,
		&u.OccupationName,
		&u.RefreshToken,
		&u.CreatedAt,
		&u.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and fills in ID, timestamps and OccupationName.
//
// The UNIQUE index on email (COLLATE NOCASE) is the real guard against
// duplicate accounts: two concurrent signups both pass any "does it exist?"
// check, but only one INSERT can win.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.ModifiedAt = now

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO users (username, nickname, email, password_hash, occupation_id, refresh_token, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		u.Username,
		u.Nickname,
		u.Email,
		u.PasswordHash,
		u.OccupationID,
		u.CreatedAt,
		u.ModifiedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return apperror.Conflict("an account with this email already exists")
		case isForeignKeyViolation(err):
			return apperror.NotFound("occupation", u.OccupationID)
		}
		return fmt.Errorf("sqlite: creating user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	u.ID = id

	occ, err := s.GetOccupation(ctx, u.OccupationID)
	if err != nil {
		return err
	}
	u.OccupationName = occ.Name

	return nil
}

// GetByID retrieves a user by primary key.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+userFrom+` WHERE u.id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email, case-insensitively.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx,
		`SELECT `+userColumns+userFrom+` WHERE u.email = ?`, email,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpdateProfile writes the editable profile fields and bumps modified_at.
func (s *UserStore) UpdateProfile(ctx context.Context, u *model.User) error {
	u.ModifiedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET username = ?, nickname = ?, occupation_id = ?, modified_at = ?
		 WHERE id = ?`,
		u.Username,
		u.Nickname,
		u.OccupationID,
		u.ModifiedAt,
		u.ID,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("occupation", u.OccupationID)
		}
		return fmt.Errorf("sqlite: updating user %d: %w", u.ID, err)
	}
	return requireOneRow(res, apperror.NotFound("user", u.ID))
}

// UpdatePassword replaces the stored bcrypt hash.
func (s *UserStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, modified_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating password for user %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("user", id))
}

// SetRefreshToken stores token unconditionally. An empty token logs the
// user out of every refresh session.
func (s *UserStore) SetRefreshToken(ctx context.Context, id int64, token string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET refresh_token = ? WHERE id = ?`, token, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting refresh token for user %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("user", id))
}

// SwapRefreshToken is a compare-and-swap on the stored refresh token.
//
// Two concurrent refreshes presenting the same token race on this single
// UPDATE. Only the first one still matches the WHERE clause; the second
// sees 0 rows affected and is treated as a replay.
func (s *UserStore) SwapRefreshToken(ctx context.Context, id int64, old, next string) (bool, error) {
	if old == "" {
		return false, nil
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE users SET refresh_token = ? WHERE id = ? AND refresh_token = ?`,
		next, id, old,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: rotating refresh token for user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n == 1, nil
}

// Delete removes the user. ON DELETE CASCADE takes memberships, boards and
// comments with it.
func (s *UserStore) Delete(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("user", id))
}

// GetOccupation retrieves an occupation by ID.
func (s *UserStore) GetOccupation(ctx context.Context, id int64) (*model.Occupation, error) {
	var o model.Occupation
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM occupations WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("occupation", id)
		}
		return nil, fmt.Errorf("sqlite: getting occupation %d: %w", id, err)
	}
	return &o, nil
}

// GetOccupationByName retrieves an occupation by its exact name.
func (s *UserStore) GetOccupationByName(ctx context.Context, name string) (*model.Occupation, error) {
	var o model.Occupation
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name FROM occupations WHERE name = ?`, name,
	).Scan(&o.ID, &o.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("occupation", name)
		}
		return nil, fmt.Errorf("sqlite: getting occupation %q: %w", name, err)
	}
	return &o, nil
}

// ListOccupations returns every occupation ordered by ID.
func (s *UserStore) ListOccupations(ctx context.Context) ([]model.Occupation, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name FROM occupations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing occupations: %w", err)
	}
	defer rows.Close()

	occupations := make([]model.Occupation, 0)
	for rows.Next() {
		var o model.Occupation
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, fmt.Errorf("sqlite: scanning occupation row: %w", err)
		}
		occupations = append(occupations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating occupation rows: %w", err)
	}
	return occupations, nil
}
