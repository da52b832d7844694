package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/atriumhq/atrium/pkg/httputil"
	"github.com/atriumhq/atrium/pkg/middleware"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// WorkspaceHandlers serves workspace and membership management endpoints
type WorkspaceHandlers struct {
	workspaces *workspaces.Service
}

// NewWorkspaceHandlers creates the workspace handler group
func NewWorkspaceHandlers(workspaceSvc *workspaces.Service) *WorkspaceHandlers {
	return &WorkspaceHandlers{workspaces: workspaceSvc}
}

// RegisterRoutes registers workspace routes; everything requires a token
func (h *WorkspaceHandlers) RegisterRoutes(router *mux.Router, auth *middleware.Authenticator) {
	protected := func(handler http.HandlerFunc) http.Handler {
		return auth.Handler(handler)
	}

	router.Handle("/v1/workspaces", protected(h.create)).Methods("POST")
	router.Handle("/v1/workspaces", protected(h.list)).Methods("GET")
	router.Handle("/v1/workspaces/{id}", protected(h.get)).Methods("GET")
	router.Handle("/v1/workspaces/{id}", protected(h.update)).Methods("PATCH")
	router.Handle("/v1/workspaces/{id}", protected(h.delete)).Methods("DELETE")
	router.Handle("/v1/workspaces/{id}/transfer", protected(h.transferOwnership)).Methods("POST")

	router.Handle("/v1/workspaces/{id}/members", protected(h.listMembers)).Methods("GET")
	router.Handle("/v1/workspaces/{id}/members", protected(h.addMember)).Methods("POST")
	router.Handle("/v1/workspaces/{id}/members/{member_id}", protected(h.updateMemberRole)).Methods("PATCH")
	router.Handle("/v1/workspaces/{id}/members/{member_id}", protected(h.removeMember)).Methods("DELETE")
}

// writeWorkspaceError maps service sentinels to HTTP responses
func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspaces.ErrNotFound):
		httputil.WriteNotFound(w, "not found")
	case errors.Is(err, workspaces.ErrForbidden):
		httputil.WriteForbidden(w)
	case errors.Is(err, workspaces.ErrSlugTaken):
		httputil.WriteConflict(w, "slug already in use")
	case errors.Is(err, workspaces.ErrAlreadyMember):
		httputil.WriteConflict(w, "user is already a member")
	case errors.Is(err, workspaces.ErrOwnerImmutable):
		httputil.WriteConflict(w, "owner membership cannot be changed, transfer ownership first")
	case errors.Is(err, workspaces.ErrInvalidRole):
		httputil.WriteValidationError(w, "invalid role")
	case errors.Is(err, workspaces.ErrInvalidName):
		httputil.WriteValidationError(w, "name must contain at least one letter or digit")
	default:
		httputil.WriteInternalError(w)
	}
}

func (h *WorkspaceHandlers) create(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	var req struct {
		Name string `json:"name"`
		Slug string `json:"slug,omitempty"`
		Plan string `json:"plan,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if req.Name == "" {
		httputil.WriteValidationError(w, "name is required")
		return
	}

	ws, err := h.workspaces.Create(r.Context(), workspaces.CreateParams{
		Name: req.Name,
		Slug: req.Slug,
		Plan: workspaces.Plan(req.Plan),
	}, authCtx.UserID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteCreated(w, ws)
}

func (h *WorkspaceHandlers) list(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	list, err := h.workspaces.ListForUser(r.Context(), authCtx.UserID)
	if err != nil {
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"workspaces": list})
}

func (h *WorkspaceHandlers) get(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	// membership is required to see a workspace
	if _, err := h.workspaces.MemberRole(r.Context(), workspaceID, authCtx.UserID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	ws, err := h.workspaces.Get(r.Context(), workspaceID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (h *WorkspaceHandlers) update(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	var req struct {
		Name        *string `json:"name,omitempty"`
		Plan        *string `json:"plan,omitempty"`
		SSOEnabled  *bool   `json:"sso_enabled,omitempty"`
		SSOEnforced *bool   `json:"sso_enforced,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	params := workspaces.UpdateParams{
		Name:        req.Name,
		SSOEnabled:  req.SSOEnabled,
		SSOEnforced: req.SSOEnforced,
	}
	if req.Plan != nil {
		plan := workspaces.Plan(*req.Plan)
		params.Plan = &plan
	}

	ws, err := h.workspaces.Update(r.Context(), workspaceID, params, authCtx.UserID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteSuccess(w, ws)
}

func (h *WorkspaceHandlers) delete(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)

	if err := h.workspaces.Delete(r.Context(), mux.Vars(r)["id"], authCtx.UserID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *WorkspaceHandlers) transferOwnership(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	var req struct {
		ToUserID string `json:"to_user_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if req.ToUserID == "" {
		httputil.WriteValidationError(w, "to_user_id is required")
		return
	}

	if err := h.workspaces.TransferOwnership(r.Context(), workspaceID, req.ToUserID, authCtx.UserID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *WorkspaceHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	if _, err := h.workspaces.MemberRole(r.Context(), workspaceID, authCtx.UserID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	members, err := h.workspaces.ListMembers(r.Context(), workspaceID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

func (h *WorkspaceHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	workspaceID := mux.Vars(r)["id"]

	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	if req.UserID == "" {
		httputil.WriteValidationError(w, "user_id is required")
		return
	}

	member, err := h.workspaces.AddMember(r.Context(), workspaceID, req.UserID,
		workspaces.Role(req.Role), authCtx.UserID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (h *WorkspaceHandlers) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	vars := mux.Vars(r)

	var req struct {
		Role string `json:"role"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	err := h.workspaces.UpdateMemberRole(r.Context(), vars["id"], vars["member_id"],
		workspaces.Role(req.Role), authCtx.UserID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *WorkspaceHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	vars := mux.Vars(r)

	if err := h.workspaces.RemoveMember(r.Context(), vars["id"], vars["member_id"], authCtx.UserID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
