package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatherly.app/internal/access"
	"gatherly.app/internal/item"
	"gatherly.app/internal/space"
)

type spaceResponse struct {
	Space        space.Space         `json:"space"`
	Capabilities access.Capabilities `json:"capabilities"`
	OpenItems    []item.Item         `json:"open_items"`
}

// loadSpace resolves the {space} parameter and applies check. It writes
// the response and returns false when the request cannot proceed.
func (a *API) loadSpace(w http.ResponseWriter, r *http.Request, check func(*access.Engine, *http.Request, space.Space) bool) (space.Space, bool) {
	sp, err := a.svc.Spaces.Resolve(r.Context(), chi.URLParam(r, "space"))
	if err != nil {
		a.fail(w, r, err)
		return space.Space{}, false
	}
	if !check(a.svc.Access, r, sp) {
		forbidden(w, r)
		return space.Space{}, false
	}
	return sp, true
}

func canView(e *access.Engine, r *http.Request, sp space.Space) bool {
	return e.CanViewSpace(r.Context(), actor(r).UserID, sp)
}

func canUpdate(e *access.Engine, r *http.Request, sp space.Space) bool {
	return e.CanUpdateSpace(r.Context(), actor(r).UserID, sp)
}

func canDelete(e *access.Engine, r *http.Request, sp space.Space) bool {
	return e.CanDeleteSpace(r.Context(), actor(r).UserID, sp)
}

func canManageMembers(e *access.Engine, r *http.Request, sp space.Space) bool {
	return e.CanManageMembers(r.Context(), actor(r).UserID, sp)
}

func canCreateItem(e *access.Engine, r *http.Request, sp space.Space) bool {
	return e.CanCreateItem(r.Context(), actor(r).UserID, sp)
}

func (a *API) handleListSpaces(w http.ResponseWriter, r *http.Request) {
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
	q := r.URL.Query()
	page, err := a.svc.Spaces.ListOwned(r.Context(), actor(r).UserID, space.ListFilter{
		Search:  q.Get("search"),
		SortBy:  q.Get("sort_by"),
		SortDir: q.Get("sort_dir"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var in space.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	sp, err := a.svc.Spaces.Create(r.Context(), actor(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (a *API) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	open, err := a.svc.Items.Open(r.Context(), sp.ID, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spaceResponse{
		Space:        sp,
		Capabilities: a.svc.Access.Capabilities(r.Context(), actor(r).UserID, sp),
		OpenItems:    open,
	})
}

func (a *API) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canUpdate)
	if !ok {
		return
	}
	var in space.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		a.fail(w, r, err)
		return
	}
	updated, err := a.svc.Spaces.Update(r.Context(), actor(r), sp, in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canDelete)
	if !ok {
		return
	}
	if err := a.svc.Spaces.Delete(r.Context(), actor(r), sp.ID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
