package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatherly.app/internal/member"
)

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

func parseOptionalRole(raw string) (member.Role, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	return member.ParseRole(raw)
}

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	page, err := a.svc.Members.List(r.Context(), sp.ID, member.ListFilter{
		Search: r.URL.Query().Get("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleAddMember(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canManageMembers)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := parseOptionalRole(req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	m, err := a.svc.Members.Add(r.Context(), actor(r), sp.ID, sp.OwnerID, req.Email, role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canManageMembers)
	if !ok {
		return
	}
	var req updateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	role, err := member.ParseRole(req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	m, err := a.svc.Members.UpdateRole(r.Context(), actor(r), sp.ID, chi.URLParam(r, "user"), role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canManageMembers)
	if !ok {
		return
	}
	if _, err := a.svc.Members.Remove(r.Context(), actor(r), sp.ID, chi.URLParam(r, "user")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	users, err := a.svc.Members.Search(r.Context(), sp.ID, r.URL.Query().Get("q"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
