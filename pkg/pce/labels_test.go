package pce

import (
	"context"
	"testing"
)

func intp(v int) *int { return &v }

func TestLabelCacheResolve(t *testing.T) {
	f := newFakePCE()
	f.lists["/orgs/1/labels"] = []map[string]any{
		{"href": "/orgs/1/labels/1", "key": "role", "value": "web"},
		{"href": "/orgs/1/labels/2", "key": "env", "value": "prod"},
	}
	f.lists["/orgs/1/sec_policy/draft/ip_lists"] = []map[string]any{
		{"href": "/orgs/1/sec_policy/draft/ip_lists/4", "name": "Any (0.0.0.0/0)"},
	}
	c := setupClient(t, f)
	lc := c.Labels()

	if err := lc.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded failed: %v", err)
	}
	if lc.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", lc.Len())
	}

	got := lc.ResolveActors([]Actor{
		{Label: &Ref{Href: "/orgs/1/labels/1"}},
		{IPList: &Ref{Href: "/orgs/1/sec_policy/draft/ip_lists/4"}},
		{Label: &Ref{Href: "/orgs/1/labels/99"}},
		{Actors: "ams"},
	})
	want := "role:web, [IPList] Any (0.0.0.0/0), Label, ams"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := lc.ResolveActors(nil); got != "Any" {
		t.Errorf("expected Any for empty actors, got %q", got)
	}
}

func TestResolveServices(t *testing.T) {
	c := setupClient(t, newFakePCE())
	lc := c.Labels()

	got := lc.ResolveServices([]Service{
		{Port: intp(443), Proto: intp(6)},
		{Port: intp(5000), ToPort: intp(5100), Proto: intp(17)},
		{Href: "/orgs/1/sec_policy/draft/services/7"},
		{},
	})
	want := "TCP/443, UDP/5000-5100, Service(7), RefObj"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := lc.ResolveServices(nil); got != "All Services" {
		t.Errorf("expected All Services, got %q", got)
	}
}

func TestLabelCacheRefreshFailure(t *testing.T) {
	f := newFakePCE()
	f.status["/orgs/1/labels"] = 500
	c := setupClient(t, f)

	if err := c.Labels().Refresh(context.Background()); err == nil {
		t.Error("expected refresh error")
	}
	if _, ok := c.Labels().Name("/orgs/1/labels/1"); ok {
		t.Error("expected empty cache after failed refresh")
	}
}
