package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/study-hub/internal/apperror"
	"github.com/sakif/study-hub/internal/repository"
	"github.com/sakif/study-hub/internal/service"
)

// BoardHandler manages CRUD for bulletin boards and their comments.
// Reads are public; writes need a logged-in author.
type BoardHandler struct {
	svc    *service.BoardService
	logger *slog.Logger
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(svc *service.BoardService, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{svc: svc, logger: logger}
}

// HandleList returns one page of boards, newest first.
//
// HTTP: GET /api/boards?categoryId=2&categoryType=notice&limit=20&offset=0
func (h *BoardHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var categoryID int64
	if raw := q.Get("categoryId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, apperror.ValidationFailed("categoryId", "categoryId must be an integer"))
			return
		}
		categoryID = id
	}

	boards, err := h.svc.ListBoards(r.Context(), repository.BoardFilter{
		CategoryID:   categoryID,
		CategoryType: q.Get("categoryType"),
		ListOptions:  listOptions(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

// HandleGet returns one board.
//
// HTTP: GET /api/boards/{boardID}
func (h *BoardHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "boardID")
	if err != nil {
		writeError(w, err)
		return
	}

	board, err := h.svc.GetBoard(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleCreate posts a new board.
//
// HTTP: POST /api/boards
// REQUEST BODY: {"title","content","categoryId","categoryType"}
func (h *BoardHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.BoardInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	board, err := h.svc.CreateBoard(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

// HandleUpdate edits a board. Author only.
//
// HTTP: PUT /api/boards/{boardID}
func (h *BoardHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "boardID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req service.BoardInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	board, err := h.svc.UpdateBoard(r.Context(), id, userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleDelete deletes a board and its comments. Author only.
//
// HTTP: DELETE /api/boards/{boardID}
func (h *BoardHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "boardID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteBoard(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// COMMENTS
// =========================================================================

type commentRequest struct {
	Content string `json:"content"`
}

// HandleListComments lists a board's comments.
//
// HTTP: GET /api/boards/{boardID}/comments
func (h *BoardHandler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	boardID, err := pathID(r, "boardID")
	if err != nil {
		writeError(w, err)
		return
	}

	comments, err := h.svc.ListComments(r.Context(), boardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// HandleCreateComment comments on a board.
//
// HTTP: POST /api/boards/{boardID}/comments
func (h *BoardHandler) HandleCreateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	boardID, err := pathID(r, "boardID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	comment, err := h.svc.CreateComment(r.Context(), boardID, userID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// HandleUpdateComment edits a comment. Author only.
//
// HTTP: PUT /api/comments/{commentID}
func (h *BoardHandler) HandleUpdateComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "commentID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req commentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	comment, err := h.svc.UpdateComment(r.Context(), id, userID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comment)
}

// HandleDeleteComment deletes a comment. Author only.
//
// HTTP: DELETE /api/comments/{commentID}
func (h *BoardHandler) HandleDeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "commentID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteComment(r.Context(), id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
