package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatherly.app/internal/item"
	"gatherly.app/internal/space"
)

type createItemRequest struct {
	item.CreateInput
	// Mentions are user ids assigned to a new task.
	Mentions []string `json:"mentions"`
}

type updateItemRequest struct {
	item.UpdateInput
	Mentions []string `json:"mentions"`
}

type itemCapabilities struct {
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

type itemView struct {
	item.Item
	Capabilities itemCapabilities `json:"capabilities"`
}

type itemPage struct {
	Items      []itemView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type itemResponse struct {
	Item     item.Item `json:"item"`
	Assigned []string  `json:"assigned,omitempty"`
}

// loadItem resolves {item} inside sp and applies check.
func (a *API) loadItem(w http.ResponseWriter, r *http.Request, sp space.Space, check func(context.Context, string, space.Space, item.Item) bool) (item.Item, bool) {
	it, err := a.svc.Items.Resolve(r.Context(), sp, chi.URLParam(r, "item"))
	if err != nil {
		a.fail(w, r, err)
		return item.Item{}, false
	}
	if !check(r.Context(), actor(r).UserID, sp, it) {
		forbidden(w, r)
		return item.Item{}, false
	}
	return it, true
}

// inTx runs fn in one transaction when a runner is configured.
func (a *API) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if a.svc.Tx == nil {
		return fn(ctx)
	}
	return a.svc.Tx.InTx(ctx, fn)
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := a.svc.Items.List(r.Context(), sp, item.ListFilter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
		Cursor: q.Get("cursor"),
		Limit:  limit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	caps := a.svc.Access.Capabilities(r.Context(), actor(r).UserID, sp)
	out := itemPage{Items: make([]itemView, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, it := range page.Items {
		out.Items = append(out.Items, itemView{
			Item:         it,
			Capabilities: itemCapabilities{Update: caps.UpdateItems, Delete: caps.DeleteItems},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canCreateItem)
	if !ok {
		return
	}
	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var resp itemResponse
	err := a.inTx(r.Context(), func(ctx context.Context) error {
		it, err := a.svc.Items.Create(ctx, actor(r), sp, req.CreateInput)
		if err != nil {
			return err
		}
		resp.Item = it
		if !it.IsTask() || len(req.Mentions) == 0 {
			return nil
		}
		resp.Assigned, err = a.svc.Assignments.Sync(ctx, actor(r), it, req.Mentions)
		return err
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	it, ok := a.loadItem(w, r, sp, a.svc.Access.CanUpdateItem)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	var resp itemResponse
	err := a.inTx(r.Context(), func(ctx context.Context) error {
		updated, err := a.svc.Items.Update(ctx, actor(r), it, req.UpdateInput)
		if err != nil {
			return err
		}
		resp.Item = updated
		if !updated.IsTask() || len(req.Mentions) == 0 {
			return nil
		}
		resp.Assigned, err = a.svc.Assignments.Sync(ctx, actor(r), updated, req.Mentions)
		return err
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	it, ok := a.loadItem(w, r, sp, a.svc.Access.CanDeleteItem)
	if !ok {
		return
	}
	if err := a.svc.Items.Delete(r.Context(), actor(r), it); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListAssignees(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	it, ok := a.loadItem(w, r, sp, a.svc.Access.CanViewItem)
	if !ok {
		return
	}
	users, err := a.svc.Assignments.Assignees(r.Context(), it)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleRemoveAssignee(w http.ResponseWriter, r *http.Request) {
	sp, ok := a.loadSpace(w, r, canView)
	if !ok {
		return
	}
	it, ok := a.loadItem(w, r, sp, a.svc.Access.CanUpdateItem)
	if !ok {
		return
	}
	removed, err := a.svc.Assignments.Remove(r.Context(), actor(r), it.ID, chi.URLParam(r, "user"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, "assignment not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
