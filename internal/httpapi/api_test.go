package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatherly.app/internal/access"
	"gatherly.app/internal/assign"
	"gatherly.app/internal/auth"
	"gatherly.app/internal/identity"
	"gatherly.app/internal/item"
	"gatherly.app/internal/member"
	"gatherly.app/internal/space"
	"gatherly.app/internal/store/memstore"
	"gatherly.app/internal/subscription"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *memstore.Store
	t       *testing.T
}

func newServices(t *testing.T, st *memstore.Store) Services {
	t.Helper()
	subs, err := subscription.NewService(st, st, st)
	require.NoError(t, err)
	spaces, err := space.NewService(st.Spaces(), st, st, st, st)
	require.NoError(t, err)
	items, err := item.NewService(st.Items(), st, st, st)
	require.NoError(t, err)
	members, err := member.NewService(st.Members(), st, st, st)
	require.NoError(t, err)
	assignments, err := assign.New(st.Assignments(), st, st)
	require.NoError(t, err)
	return Services{
		Spaces:        spaces,
		Items:         items,
		Members:       members,
		Assignments:   assignments,
		Access:        access.New(st.Members(), access.WithLogger(zap.NewNop())),
		Subscriptions: subs,
		Users:         st,
		Tx:            st,
	}
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	st := memstore.New()
	st.PutUser(identity.User{ID: "user-a", FirstName: "Ada", LastName: "Lovelace", Email: "a@example.com"})
	st.PutUser(identity.User{ID: "user-b", FirstName: "Ben", Email: "b@example.com"})
	st.PutUser(identity.User{ID: "user-c", FirstName: "Cy", Email: "c@example.com"})

	iss, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	api := New(newServices(t, st), Readiness{}, Options{
		Version:    "test",
		Issuer:     iss,
		DevTokens:  true,
		RateBurst:  1000,
		RatePerSec: 1000,
		Logger:     zap.NewNop(),
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		srv.Close()
		api.Close()
	})

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: st, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	return resp
}

func (c *apiClient) get(path, token string, params url.Values) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, token, nil)
}

func (c *apiClient) token(userID string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user_id": userID})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	payload := decode[tokenResponse](c.t, resp)
	require.NotEmpty(c.t, payload.Token)
	return payload.Token
}

// expect asserts the status and closes the body.
func expect(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		var body errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("expected %d, got %d (%s)", code, resp.StatusCode, body.Error)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)

	health := decode[map[string]any](t, c.get("/healthz", "", nil))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])

	resp := c.get("/readyz", "", nil)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	expect(t, resp, http.StatusOK)
}

func TestTokenEndpoint(t *testing.T) {
	c := newTestAPI(t)

	expect(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"email": "A@Example.com"}), http.StatusOK)
	expect(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"user_id": "ghost"}), http.StatusUnauthorized)
	expect(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{}), http.StatusBadRequest)
	expect(t, c.do(http.MethodPost, "/v1/auth/token", "", map[string]string{"role": "admin"}), http.StatusBadRequest)
}

func TestTokenEndpointDisabled(t *testing.T) {
	st := memstore.New()
	api := New(newServices(t, st), Readiness{}, Options{Logger: zap.NewNop()})
	defer api.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewBufferString(`{"user_id":"x"}`))
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/spaces", nil)
	rr = httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequiresBearerToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/spaces", "", nil)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "missing bearer token", body.Error)
	assert.NotEmpty(t, body.RequestID)

	expect(t, c.get("/v1/spaces", "forged", nil), http.StatusUnauthorized)
}

func TestSpaceQuotaWithoutSubscription(t *testing.T) {
	c := newTestAPI(t)
	tok := c.token("user-a")

	expect(t, c.do(http.MethodPost, "/v1/spaces", tok, map[string]any{"name": "Team"}), http.StatusPaymentRequired)

	expect(t, c.do(http.MethodPost, "/v1/me/subscription", tok, nil), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/me/subscription", tok, nil), http.StatusConflict)
	expect(t, c.do(http.MethodPost, "/v1/spaces", tok, map[string]any{"name": "Team"}), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/spaces", tok, map[string]any{"name": "  "}), http.StatusBadRequest)
	expect(t, c.do(http.MethodPost, "/v1/spaces", tok, map[string]any{"nom": "Team"}), http.StatusBadRequest)
}

func TestMarketingFlow(t *testing.T) {
	c := newTestAPI(t)
	a := c.token("user-a")
	b := c.token("user-b")

	expect(t, c.do(http.MethodPost, "/v1/me/subscription", a, nil), http.StatusCreated)

	resp := c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": "Marketing"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	mkt := decode[space.Space](t, resp)
	assert.Equal(t, "marketing", mkt.Slug)

	expect(t, c.get("/v1/spaces/marketing", b, nil), http.StatusForbidden)
	expect(t, c.get("/v1/spaces/nowhere", a, nil), http.StatusNotFound)

	resp = c.do(http.MethodPost, "/v1/spaces/marketing/members", a, map[string]any{"email": "b@example.com", "role": "editor"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	added := decode[member.Member](t, resp)
	assert.Equal(t, "user-b", added.UserID)
	assert.Equal(t, "Ben", added.User.FirstName)

	expect(t, c.do(http.MethodPost, "/v1/spaces/marketing/members", a, map[string]any{"email": "b@example.com"}), http.StatusConflict)
	expect(t, c.do(http.MethodPost, "/v1/spaces/marketing/members", a, map[string]any{"email": "c@example.com", "role": "boss"}), http.StatusBadRequest)
	expect(t, c.do(http.MethodPost, "/v1/spaces/marketing/members", b, map[string]any{"email": "c@example.com"}), http.StatusForbidden)

	view := decode[spaceResponse](t, c.get("/v1/spaces/marketing", b, nil))
	assert.Equal(t, mkt.ID, view.Space.ID)
	assert.Equal(t, access.Capabilities{View: true, Update: true, CreateItem: true, UpdateItems: true}, view.Capabilities)

	resp = c.do(http.MethodPost, "/v1/spaces/marketing/items", a, map[string]any{
		"type":     "TASK",
		"title":    "Launch Plan",
		"mentions": []string{"user-b", " user-b "},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[itemResponse](t, resp)
	assert.Equal(t, "launch-plan", created.Item.Slug)
	require.NotNil(t, created.Item.Status)
	assert.Equal(t, item.StatusTodo, *created.Item.Status)
	assert.Equal(t, []string{"user-b"}, created.Assigned)

	resp = c.do(http.MethodPut, "/v1/spaces/marketing/items/launch-plan", b, map[string]any{"status": "IN_PROGRESS"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[itemResponse](t, resp)
	assert.Equal(t, item.StatusInProgress, *moved.Item.Status)

	page := decode[itemPage](t, c.get("/v1/spaces/marketing/items", b, url.Values{"type": {"TASK"}}))
	require.Len(t, page.Items, 1)
	assert.Equal(t, itemCapabilities{Update: true, Delete: false}, page.Items[0].Capabilities)

	assignees := decode[map[string][]identity.User](t, c.get("/v1/spaces/marketing/items/launch-plan/assignees", b, nil))
	require.Len(t, assignees["users"], 1)
	assert.Equal(t, "user-b", assignees["users"][0].ID)

	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing/items/launch-plan", b, nil), http.StatusForbidden)
	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing", b, nil), http.StatusForbidden)

	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing/items/launch-plan/assignees/user-b", b, nil), http.StatusNoContent)
	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing/items/launch-plan/assignees/user-b", b, nil), http.StatusNotFound)

	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing/members/user-b", a, nil), http.StatusNoContent)
	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing/members/user-b", a, nil), http.StatusNoContent)
	expect(t, c.get("/v1/spaces/marketing", b, nil), http.StatusForbidden)

	expect(t, c.do(http.MethodDelete, "/v1/spaces/marketing", a, nil), http.StatusNoContent)
	expect(t, c.get("/v1/spaces/marketing", a, nil), http.StatusNotFound)

	var actions []string
	for _, e := range c.store.AuditEntries() {
		actions = append(actions, e.ActorID+":"+string(e.Action))
	}
	assert.Equal(t, []string{
		"user-a:plan_assigned",
		"user-a:created",
		"user-a:member_added",
		"user-a:created",
		"user-a:assignments_synced",
		"user-b:updated",
		"user-b:assignment_removed",
		"user-a:member_removed",
		"user-a:deleted",
	}, actions)
}

func TestItemValidationErrors(t *testing.T) {
	c := newTestAPI(t)
	a := c.token("user-a")
	expect(t, c.do(http.MethodPost, "/v1/me/subscription", a, nil), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": "Board"}), http.StatusCreated)

	expect(t, c.do(http.MethodPost, "/v1/spaces/board/items", a, map[string]any{"type": "MEMO", "title": "x"}), http.StatusBadRequest)
	expect(t, c.do(http.MethodPost, "/v1/spaces/board/items", a, map[string]any{"type": "TASK", "title": "x", "status": "LATER"}), http.StatusUnprocessableEntity)

	resp := c.do(http.MethodPost, "/v1/spaces/board/items", a, map[string]any{"type": "NOTE", "title": "Idea", "mentions": []string{"user-b"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	note := decode[itemResponse](t, resp)
	assert.Nil(t, note.Item.Status)
	assert.Empty(t, note.Assigned)

	expect(t, c.do(http.MethodPut, "/v1/spaces/board/items/idea", a, map[string]any{"status": "DONE"}), http.StatusUnprocessableEntity)
	expect(t, c.get("/v1/spaces/board/items", a, url.Values{"cursor": {"!!"}}), http.StatusBadRequest)
	expect(t, c.get("/v1/spaces/board/items", a, url.Values{"limit": {"-1"}}), http.StatusBadRequest)
}

func TestMentionOfUnknownUserRollsBackCreate(t *testing.T) {
	c := newTestAPI(t)
	a := c.token("user-a")
	expect(t, c.do(http.MethodPost, "/v1/me/subscription", a, nil), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": "Board"}), http.StatusCreated)

	expect(t, c.do(http.MethodPost, "/v1/spaces/board/items", a, map[string]any{
		"type": "TASK", "title": "Ship", "mentions": []string{"ghost"},
	}), http.StatusNotFound)

	page := decode[itemPage](t, c.get("/v1/spaces/board/items", a, nil))
	assert.Empty(t, page.Items)
}

func TestItemFromAnotherSpaceIsForbidden(t *testing.T) {
	c := newTestAPI(t)
	a := c.token("user-a")
	expect(t, c.do(http.MethodPost, "/v1/me/subscription", a, nil), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": "Alpha"}), http.StatusCreated)
	expect(t, c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": "Beta"}), http.StatusCreated)

	resp := c.do(http.MethodPost, "/v1/spaces/alpha/items", a, map[string]any{"type": "TASK", "title": "Secret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	secret := decode[itemResponse](t, resp)

	expect(t, c.do(http.MethodPut, "/v1/spaces/beta/items/"+secret.Item.ID, a, map[string]any{"title": "Leak"}), http.StatusForbidden)
	expect(t, c.do(http.MethodPut, "/v1/spaces/alpha/items/"+secret.Item.ID, a, map[string]any{"title": "Public"}), http.StatusOK)
}

func TestListOwnedSpacesAndMemberSearch(t *testing.T) {
	c := newTestAPI(t)
	a := c.token("user-a")
	expect(t, c.do(http.MethodPost, "/v1/me/subscription", a, nil), http.StatusCreated)
	for _, name := range []string{"Alpha", "Beta"} {
		expect(t, c.do(http.MethodPost, "/v1/spaces", a, map[string]any{"name": name}), http.StatusCreated)
	}

	page := decode[space.Page](t, c.get("/v1/spaces", a, url.Values{"sort_by": {"name"}, "sort_dir": {"asc"}}))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Spaces, 2)
	assert.Equal(t, "Alpha", page.Spaces[0].Name)

	found := decode[map[string][]identity.User](t, c.get("/v1/spaces/alpha/members/search", a, url.Values{"q": {"ben"}}))
	assert.Empty(t, found["users"])

	expect(t, c.do(http.MethodPost, "/v1/spaces/alpha/members", a, map[string]any{"email": "b@example.com"}), http.StatusCreated)
	found = decode[map[string][]identity.User](t, c.get("/v1/spaces/alpha/members/search", a, url.Values{"q": {"ben"}}))
	require.Len(t, found["users"], 1)
	assert.Equal(t, "user-b", found["users"][0].ID)
	found = decode[map[string][]identity.User](t, c.get("/v1/spaces/beta/members/search", a, url.Values{"q": {"ben"}}))
	assert.Empty(t, found["users"])
	resp := c.do(http.MethodPut, "/v1/spaces/alpha/members/user-b", a, map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, member.RoleAdmin, decode[member.Membership](t, resp).Role)

	members := decode[member.Page](t, c.get("/v1/spaces/alpha/members", a, nil))
	assert.Equal(t, 1, members.Total)

	expect(t, c.do(http.MethodPut, "/v1/spaces/alpha/members/user-c", a, map[string]any{"role": "admin"}), http.StatusNotFound)
}
