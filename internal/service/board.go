// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take repository INTERFACES, not *sqlite.DB. Tests pass in-memory
// fakes (see the _test.go files); main.go passes the SQLite stores.
//
// Services return apperror values (ValidationFailed, Forbidden, ...), never
// HTTP status codes. The handler layer translates them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/repository"
)

const (
	MaxBoardTitleLength   = 200
	MaxBoardContentLength = 20000
	MaxCategoryTypeLength = 30
	MaxCommentLength      = 2000
)

// BoardService handles bulletin boards and their comments.
//
// OWNERSHIP RULE:
// Anyone may read. Only the author of a board or comment may change or
// delete it; everyone else gets Forbidden.
type BoardService struct {
	repo   repository.BoardRepository
	logger *slog.Logger
}

// NewBoardService creates a new BoardService.
func NewBoardService(repo repository.BoardRepository, logger *slog.Logger) *BoardService {
	return &BoardService{
		repo:   repo,
		logger: logger,
	}
}

// BoardInput is the writable part of a board.
type BoardInput struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	CategoryID   int64  `json:"categoryId"`
	CategoryType string `json:"categoryType"`
}

func (in BoardInput) normalize() (BoardInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.CategoryType = strings.TrimSpace(in.CategoryType)

	if in.Title == "" {
		return in, apperror.ValidationFailed("title", "title is required")
	}
	if utf8.RuneCountInString(in.Title) > MaxBoardTitleLength {
		return in, apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxBoardTitleLength))
	}
	if strings.TrimSpace(in.Content) == "" {
		return in, apperror.ValidationFailed("content", "content is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxBoardContentLength {
		return in, apperror.ValidationFailed("content",
			fmt.Sprintf("content must be %d characters or less", MaxBoardContentLength))
	}
	if in.CategoryID < 0 {
		return in, apperror.ValidationFailed("categoryId", "category id cannot be negative")
	}
	if utf8.RuneCountInString(in.CategoryType) > MaxCategoryTypeLength {
		return in, apperror.ValidationFailed("categoryType",
			fmt.Sprintf("category type must be %d characters or less", MaxCategoryTypeLength))
	}
	return in, nil
}

func validateComment(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperror.ValidationFailed("content", "comment is required")
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return apperror.ValidationFailed("content",
			fmt.Sprintf("comment must be %d characters or less", MaxCommentLength))
	}
	return nil
}

// =========================================================================
// BOARDS
// =========================================================================

// CreateBoard validates and saves a new board written by userID.
func (s *BoardService) CreateBoard(ctx context.Context, userID int64, in BoardInput) (*model.Board, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}

	board := &model.Board{
		Title:        in.Title,
		Content:      in.Content,
		CategoryID:   in.CategoryID,
		CategoryType: in.CategoryType,
		UserID:       userID,
	}
	if err := s.repo.CreateBoard(ctx, board); err != nil {
		s.logger.Error("failed to create board",
			slog.Int64("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating board: %w", err)
	}

	s.logger.Info("board created", slog.Int64("boardID", board.ID), slog.Int64("userID", userID))
	return board, nil
}

// GetBoard retrieves a board. Returns apperror.ErrNotFound if it doesn't exist.
func (s *BoardService) GetBoard(ctx context.Context, id int64) (*model.Board, error) {
	return s.repo.GetBoard(ctx, id)
}

// ListBoards lists boards newest first. The repository clamps the page
// (default 20, max 100); negative category ids are rejected here.
func (s *BoardService) ListBoards(ctx context.Context, f repository.BoardFilter) ([]model.Board, error) {
	if f.CategoryID < 0 {
		return nil, apperror.ValidationFailed("categoryId", "category id cannot be negative")
	}
	f.CategoryType = strings.TrimSpace(f.CategoryType)
	f.ListOptions = f.ListOptions.Normalize()

	boards, err := s.repo.ListBoards(ctx, f)
	if err != nil {
		s.logger.Error("failed to list boards", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing boards: %w", err)
	}
	return boards, nil
}

// ownBoard fetches a board and checks that userID wrote it.
func (s *BoardService) ownBoard(ctx context.Context, id, userID int64) (*model.Board, error) {
	board, err := s.repo.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	if board.UserID != userID {
		return nil, apperror.Forbidden("only the author can change this board")
	}
	return board, nil
}

// UpdateBoard replaces a board's title, content and category. Author only.
func (s *BoardService) UpdateBoard(ctx context.Context, id, userID int64, in BoardInput) (*model.Board, error) {
	board, err := s.ownBoard(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if in, err = in.normalize(); err != nil {
		return nil, err
	}

	board.Title = in.Title
	board.Content = in.Content
	board.CategoryID = in.CategoryID
	board.CategoryType = in.CategoryType

	if err := s.repo.UpdateBoard(ctx, board); err != nil {
		s.logger.Error("failed to update board",
			slog.Int64("boardID", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating board: %w", err)
	}

	s.logger.Info("board updated", slog.Int64("boardID", id))
	return board, nil
}

// DeleteBoard removes a board and its comments. Author only.
func (s *BoardService) DeleteBoard(ctx context.Context, id, userID int64) error {
	if _, err := s.ownBoard(ctx, id, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteBoard(ctx, id); err != nil {
		return err
	}

	s.logger.Info("board deleted", slog.Int64("boardID", id))
	return nil
}

// =========================================================================
// COMMENTS
// =========================================================================

// CreateComment adds a comment to an existing board.
func (s *BoardService) CreateComment(ctx context.Context, boardID, userID int64, content string) (*model.Comment, error) {
	if err := validateComment(content); err != nil {
		return nil, err
	}

	comment := &model.Comment{
		Content: content,
		UserID:  userID,
		BoardID: boardID,
	}
	if err := s.repo.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("creating comment: %w", err)
	}

	s.logger.Info("comment created",
		slog.Int64("commentID", comment.ID),
		slog.Int64("boardID", boardID),
	)
	return comment, nil
}

// ListComments lists a board's comments oldest first. A missing board is
// NotFound rather than an empty list.
func (s *BoardService) ListComments(ctx context.Context, boardID int64) ([]model.Comment, error) {
	if _, err := s.repo.GetBoard(ctx, boardID); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, boardID)
}

func (s *BoardService) ownComment(ctx context.Context, id, userID int64) (*model.Comment, error) {
	comment, err := s.repo.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if comment.UserID != userID {
		return nil, apperror.Forbidden("only the author can change this comment")
	}
	return comment, nil
}

// UpdateComment replaces a comment's text. Author only.
func (s *BoardService) UpdateComment(ctx context.Context, id, userID int64, content string) (*model.Comment, error) {
	comment, err := s.ownComment(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := validateComment(content); err != nil {
		return nil, err
	}

	comment.Content = content
	if err := s.repo.UpdateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("updating comment: %w", err)
	}
	return comment, nil
}

// DeleteComment removes a comment. Author only.
func (s *BoardService) DeleteComment(ctx context.Context, id, userID int64) error {
	if _, err := s.ownComment(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.DeleteComment(ctx, id)
}
