package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/study-hub/internal/model"
	"github.com/sakif/study-hub/internal/service"
)

// GroupHandler exposes the study-group membership workflow.
//
// Every handler follows the same three steps: read the caller and path
// params, call one GroupService method, write the result. All permission
// checks live in the service, so a handler never decides who may do what.
type GroupHandler struct {
	svc    *service.GroupService
	logger *slog.Logger
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(svc *service.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{svc: svc, logger: logger}
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HandleCreate creates a group with the caller as its admin.
//
// HTTP: POST /api/groups
func (h *GroupHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, err := h.svc.CreateGroup(r.Context(), req.Name, req.Description, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// HandleList lists groups with their member counts.
//
// HTTP: GET /api/groups?name=algo
func (h *GroupHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListGroups(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// HandleListMine lists the caller's groups and role in each.
//
// HTTP: GET /api/groups/mine
func (h *GroupHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	groups, err := h.svc.ListMyGroups(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// HandleDelete deletes a group. Admin only.
//
// HTTP: DELETE /api/groups/{groupID}
func (h *GroupHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DeleteGroup(r.Context(), groupID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// JOIN REQUESTS
// =========================================================================

// HandleRequestJoin files a join request for the caller.
//
// HTTP: POST /api/groups/{groupID}/requests
func (h *GroupHandler) HandleRequestJoin(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.svc.RequestJoin(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleListGroupRequests lists a group's pending requests. Admin only.
//
// HTTP: GET /api/groups/{groupID}/requests
func (h *GroupHandler) HandleListGroupRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	requests, err := h.svc.ListPendingForGroup(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// HandleListMyRequests lists the caller's own pending requests.
//
// HTTP: GET /api/requests/mine
func (h *GroupHandler) HandleListMyRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	requests, err := h.svc.ListPendingForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// HandleApprove approves a pending request.
//
// HTTP: POST /api/requests/{requestID}/approve
func (h *GroupHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, err := pathID(r, "requestID")
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := h.svc.Approve(r.Context(), requestID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleDeny rejects a pending request.
//
// HTTP: DELETE /api/requests/{requestID}
func (h *GroupHandler) HandleDeny(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	requestID, err := pathID(r, "requestID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Deny(r.Context(), requestID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =========================================================================
// MEMBERS
// =========================================================================

// HandleListMembers lists a group's active members. Members only.
//
// HTTP: GET /api/groups/{groupID}/members
func (h *GroupHandler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	members, err := h.svc.ListActiveMembers(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleWithdraw removes the caller from a group.
//
// HTTP: DELETE /api/groups/{groupID}/members/me
func (h *GroupHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Withdraw(r.Context(), groupID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveMember removes another member. Admin only.
//
// HTTP: DELETE /api/groups/{groupID}/members/{userID}
func (h *GroupHandler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.RemoveMember(r.Context(), groupID, targetID, actorID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setRoleRequest struct {
	Role model.Role `json:"role"`
}

type setRoleResponse struct {
	Changed bool `json:"changed"`
}

// HandleSetRole promotes or demotes a member. Admin only.
//
// HTTP: PUT /api/groups/{groupID}/members/{userID}/role
// REQUEST BODY: {"role": "ADMIN"}
func (h *GroupHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := currentUser(w, r)
	if !ok {
		return
	}
	groupID, err := pathID(r, "groupID")
	if err != nil {
		writeError(w, err)
		return
	}
	targetID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, err)
		return
	}

	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	changed, err := h.svc.SetRole(r.Context(), groupID, targetID, req.Role, actorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setRoleResponse{Changed: changed})
}
