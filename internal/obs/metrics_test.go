package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                        "/",
		"/metrics":                                "/metrics",
		"/v1/spaces":                              "/v1/spaces",
		"/v1/spaces/marketing":                    "/v1/spaces/:space",
		"/v1/spaces/marketing/members":            "/v1/spaces/:space/members",
		"/v1/spaces/marketing/members/search":     "/v1/spaces/:space/members/search",
		"/v1/spaces/marketing/members/u1":         "/v1/spaces/:space/members/:user",
		"/v1/spaces/marketing/items?type=TASK":    "/v1/spaces/:space/items",
		"/v1/spaces/marketing/items/i1":           "/v1/spaces/:space/items/:item",
		"/v1/spaces/marketing/items/i1/assignees": "/v1/spaces/:space/items/:item/assignees",
		"/v1/spaces/m/items/i1/assignees/u2":      "/v1/spaces/:space/items/:item/assignees/:user",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
