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

var _ repository.BoardRepository = (*BoardStore)(nil)

// BoardStore persists bulletin boards and their comments.
type BoardStore struct {
	q queryer
}

const boardColumns = `id, title, content, category_id, category_type, status, user_id, created_at, updated_at`

func scanBoard(row interface{ Scan(...any) error }) (*model.Board, error) {
	var b model.Board
	err := row.Scan(
		&b.ID,
		&b.Title,
		&b.Content,
		&b.CategoryID,
		&b.CategoryType,
		&b.Status,
		&b.UserID,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBoard inserts b with status ACTIVE and fills in ID and timestamps.
func (s *BoardStore) CreateBoard(ctx context.Context, b *model.Board) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	b.Status = model.BoardStatusActive

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO boards (title, content, category_id, category_type, status, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title,
		b.Content,
		b.CategoryID,
		b.CategoryType,
		b.Status,
		b.UserID,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("user", b.UserID)
		}
		return fmt.Errorf("sqlite: creating board: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new board id: %w", err)
	}
	b.ID = id
	return nil
}

// GetBoard retrieves a board by ID.
func (s *BoardStore) GetBoard(ctx context.Context, id int64) (*model.Board, error) {
	b, err := scanBoard(s.q.QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("board", id)
		}
		return nil, fmt.Errorf("sqlite: getting board %d: %w", id, err)
	}
	return b, nil
}

// ListBoards returns boards newest first, optionally narrowed by category.
//
// OPTIONAL FILTERS IN ONE STATEMENT:
// "(? = 0 OR category_id = ?)" lets a zero value mean "any" without
// building the SQL string dynamically. Each filter value is bound twice.
func (s *BoardStore) ListBoards(ctx context.Context, f repository.BoardFilter) ([]model.Board, error) {
	opts := f.ListOptions.Normalize()

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+boardColumns+`
		 FROM boards
		 WHERE (? = 0 OR category_id = ?)
		   AND (? = '' OR category_type = ?)
		 ORDER BY id DESC
		 LIMIT ? OFFSET ?`,
		f.CategoryID, f.CategoryID,
		f.CategoryType, f.CategoryType,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing boards: %w", err)
	}
	defer rows.Close()

	boards := make([]model.Board, 0, opts.Limit)
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning board row: %w", err)
		}
		boards = append(boards, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating board rows: %w", err)
	}
	return boards, nil
}

// UpdateBoard writes title, content and category, and bumps updated_at.
func (s *BoardStore) UpdateBoard(ctx context.Context, b *model.Board) error {
	b.UpdatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`UPDATE boards
		 SET title = ?, content = ?, category_id = ?, category_type = ?, updated_at = ?
		 WHERE id = ?`,
		b.Title,
		b.Content,
		b.CategoryID,
		b.CategoryType,
		b.UpdatedAt,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating board %d: %w", b.ID, err)
	}
	return requireOneRow(res, apperror.NotFound("board", b.ID))
}

// DeleteBoard removes the board; its comments cascade.
func (s *BoardStore) DeleteBoard(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting board %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("board", id))
}

// =========================================================================
// COMMENTS
// =========================================================================

const commentColumns = `id, content, user_id, board_id, created_at, updated_at`

func scanComment(row interface{ Scan(...any) error }) (*model.Comment, error) {
	var c model.Comment
	if err := row.Scan(&c.ID, &c.Content, &c.UserID, &c.BoardID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComment inserts c. A missing board surfaces as NotFound through the
// board_id foreign key.
func (s *BoardStore) CreateComment(ctx context.Context, c *model.Comment) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO board_comments (content, user_id, board_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.Content, c.UserID, c.BoardID, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperror.NotFound("board", c.BoardID)
		}
		return fmt.Errorf("sqlite: creating comment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new comment id: %w", err)
	}
	c.ID = id
	return nil
}

// GetComment retrieves a comment by ID.
func (s *BoardStore) GetComment(ctx context.Context, id int64) (*model.Comment, error) {
	c, err := scanComment(s.q.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM board_comments WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("comment", id)
		}
		return nil, fmt.Errorf("sqlite: getting comment %d: %w", id, err)
	}
	return c, nil
}

// ListComments returns the comments on boardID, oldest first.
func (s *BoardStore) ListComments(ctx context.Context, boardID int64) ([]model.Comment, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+commentColumns+` FROM board_comments WHERE board_id = ? ORDER BY id`, boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments for board %d: %w", boardID, err)
	}
	defer rows.Close()

	comments := make([]model.Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comment rows: %w", err)
	}
	return comments, nil
}

// UpdateComment writes the content and bumps updated_at.
func (s *BoardStore) UpdateComment(ctx context.Context, c *model.Comment) error {
	c.UpdatedAt = time.Now().UTC()

	res, err := s.q.ExecContext(ctx,
		`UPDATE board_comments SET content = ?, updated_at = ? WHERE id = ?`,
		c.Content, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating comment %d: %w", c.ID, err)
	}
	return requireOneRow(res, apperror.NotFound("comment", c.ID))
}

// DeleteComment removes one comment.
func (s *BoardStore) DeleteComment(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM board_comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting comment %d: %w", id, err)
	}
	return requireOneRow(res, apperror.NotFound("comment", id))
}
