package pce

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakePCE serves objects by href and records every write.
type fakePCE struct {
	mu         sync.Mutex
	objects    map[string]map[string]any
	lists      map[string]any
	status     map[string]int
	deps       map[string]any
	provStatus int
	puts       []string
	putBodies  []map[string]any
	provisions []map[string]any
}

func newFakePCE() *fakePCE {
	return &fakePCE{
		objects:    make(map[string]map[string]any),
		lists:      make(map[string]any),
		status:     make(map[string]int),
		provStatus: http.StatusCreated,
	}
}

func (f *fakePCE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "key" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v2")
	var body map[string]any
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &body)
		}
	}

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/sec_policy/draft/dependencies"):
		if f.deps == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(f.deps)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/sec_policy"):
		f.provisions = append(f.provisions, body)
		w.WriteHeader(f.provStatus)
		if f.provStatus != http.StatusCreated {
			_, _ = w.Write([]byte(`{"error":"missing dependency"}`))
		}
	case r.Method == http.MethodPut:
		f.puts = append(f.puts, path)
		f.putBodies = append(f.putBodies, body)
		obj, ok := f.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		for k, v := range body {
			obj[k] = v
		}
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		if code, ok := f.status[path]; ok {
			w.WriteHeader(code)
			return
		}
		if list, ok := f.lists[path]; ok {
			_ = json.NewEncoder(w).Encode(list)
			return
		}
		obj, ok := f.objects[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(obj)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePCE) put(href string, obj map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj["href"] = href
	f.objects[href] = obj
}

func (f *fakePCE) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

func setupClient(t *testing.T, f *fakePCE) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:   srv.URL + "/",
		OrgID:     "1",
		APIKey:    "key",
		APISecret: "secret",
		Timeout:   5 * time.Second,
	}, zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

const (
	ruleActive = "/orgs/1/sec_policy/active/rule_sets/5/sec_rules/12"
	ruleDraft  = "/orgs/1/sec_policy/draft/rule_sets/5/sec_rules/12"
	rsDraft    = "/orgs/1/sec_policy/draft/rule_sets/5"
)

func TestConfigValidate(t *testing.T) {
	if err := (&Config{}).Validate(); err == nil {
		t.Error("expected error for empty config")
	}
	cfg := Config{BaseURL: "https://pce", OrgID: "1", APIKey: "k", APISecret: "s"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestGetLiveItemActive(t *testing.T) {
	f := newFakePCE()
	f.put(ruleActive, map[string]any{"enabled": true, "description": "db"})
	c := setupClient(t, f)

	obj, err := c.GetLiveItem(context.Background(), ruleDraft)
	if err != nil {
		t.Fatalf("GetLiveItem failed: %v", err)
	}
	if !obj.Enabled || obj.Namespace != "active" {
		t.Errorf("expected enabled active object, got %+v", obj)
	}
}

func TestGetLiveItemFallsBackToDraft(t *testing.T) {
	f := newFakePCE()
	f.put(ruleDraft, map[string]any{"enabled": false})
	c := setupClient(t, f)

	obj, err := c.GetLiveItem(context.Background(), ruleActive)
	if err != nil {
		t.Fatalf("GetLiveItem failed: %v", err)
	}
	if obj.Namespace != "draft" {
		t.Errorf("expected draft object, got %s", obj.Namespace)
	}
}

func TestGetLiveItemNotFound(t *testing.T) {
	c := setupClient(t, newFakePCE())

	_, err := c.GetLiveItem(context.Background(), ruleActive)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsUnreachable(err) {
		t.Error("not found must not be classified as unreachable")
	}
}

func TestGetLiveItemServerErrorIsUnreachable(t *testing.T) {
	f := newFakePCE()
	f.status[ruleActive] = http.StatusNotFound
	f.status[ruleDraft] = http.StatusServiceUnavailable
	c := setupClient(t, f)

	_, err := c.GetLiveItem(context.Background(), ruleActive)
	if !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
	if IsNotFound(err) {
		t.Error("a 503 must not be classified as not found")
	}
}

func TestGetLiveItemTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: url, OrgID: "1", APIKey: "key", APISecret: "secret", Timeout: time.Second},
		zerolog.New(nil).Level(zerolog.Disabled))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = c.GetLiveItem(context.Background(), ruleActive)
	if !IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}

func TestToggleAndProvision(t *testing.T) {
	f := newFakePCE()
	f.put(ruleDraft, map[string]any{"enabled": false})
	c := setupClient(t, f)

	if err := c.ToggleAndProvision(context.Background(), ruleActive, true, false); err != nil {
		t.Fatalf("ToggleAndProvision failed: %v", err)
	}

	if len(f.puts) != 1 || f.puts[0] != ruleDraft {
		t.Fatalf("expected one PUT to %s, got %v", ruleDraft, f.puts)
	}
	if f.putBodies[0]["enabled"] != true {
		t.Errorf("expected enabled=true in body, got %v", f.putBodies[0])
	}
	if len(f.provisions) != 1 {
		t.Fatalf("expected one provision, got %d", len(f.provisions))
	}
	subset := f.provisions[0]["change_subset"].(map[string]any)
	sets := subset["rule_sets"].([]any)
	if sets[0].(map[string]any)["href"] != rsDraft {
		t.Errorf("expected owning rule set %s provisioned, got %v", rsDraft, sets)
	}
	if f.provisions[0]["update_description"] != ProvisionDescription {
		t.Errorf("unexpected update description %v", f.provisions[0]["update_description"])
	}
}

func TestToggleRuleSetProvisionsItself(t *testing.T) {
	f := newFakePCE()
	f.put(rsDraft, map[string]any{"enabled": true})
	c := setupClient(t, f)

	if err := c.ToggleAndProvision(context.Background(), "/orgs/1/sec_policy/active/rule_sets/5", false, true); err != nil {
		t.Fatalf("ToggleAndProvision failed: %v", err)
	}
	subset := f.provisions[0]["change_subset"].(map[string]any)
	if subset["rule_sets"].([]any)[0].(map[string]any)["href"] != rsDraft {
		t.Errorf("expected rule set provisioned, got %v", subset)
	}
}

func TestToggleRejectedProvision(t *testing.T) {
	f := newFakePCE()
	f.put(ruleDraft, map[string]any{"enabled": false})
	f.provStatus = http.StatusNotAcceptable
	c := setupClient(t, f)

	err := c.ToggleAndProvision(context.Background(), ruleActive, true, false)
	if !IsRejected(err) {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing dependency") {
		t.Errorf("expected remote body in error, got %v", err)
	}
}

func TestProvisionMergesDependencies(t *testing.T) {
	f := newFakePCE()
	f.deps = map[string]any{
		"rule_sets": []map[string]string{{"href": rsDraft}, {"href": "/orgs/1/sec_policy/draft/rule_sets/6"}},
		"ip_lists":  []map[string]string{{"href": "/orgs/1/sec_policy/draft/ip_lists/3"}, {"href": "/orgs/1/sec_policy/draft/ip_lists/3"}},
		"services":  []map[string]string{{"href": "/orgs/1/sec_policy/draft/services/9"}},
		"unrelated": "ignored",
	}
	c := setupClient(t, f)

	if err := c.ProvisionChanges(context.Background(), rsDraft); err != nil {
		t.Fatalf("ProvisionChanges failed: %v", err)
	}

	subset := f.provisions[0]["change_subset"].(map[string]any)
	if n := len(subset["rule_sets"].([]any)); n != 2 {
		t.Errorf("expected 2 rule sets after de-duplication, got %d", n)
	}
	if n := len(subset["ip_lists"].([]any)); n != 1 {
		t.Errorf("expected 1 ip list after de-duplication, got %d", n)
	}
	if n := len(subset["services"].([]any)); n != 1 {
		t.Errorf("expected 1 service, got %d", n)
	}
	if _, ok := subset["unrelated"]; ok {
		t.Error("unexpected key in change subset")
	}
}

func TestUpdateRuleNoteIdempotent(t *testing.T) {
	f := newFakePCE()
	f.put(ruleDraft, map[string]any{"enabled": true, "description": "db access"})
	c := setupClient(t, f)
	ctx := context.Background()
	note := "[📅 排程: Mon 08:00-18:00 Enable]"

	changed, err := c.UpdateRuleNote(ctx, ruleActive, note, false)
	if err != nil {
		t.Fatalf("first UpdateRuleNote failed: %v", err)
	}
	if !changed {
		t.Error("expected first call to change the description")
	}

	changed, err = c.UpdateRuleNote(ctx, ruleActive, note, false)
	if err != nil {
		t.Fatalf("second UpdateRuleNote failed: %v", err)
	}
	if changed {
		t.Error("expected second call to be a no-op")
	}

	if n := f.putCount(); n != 1 {
		t.Errorf("expected exactly 1 PUT, got %d", n)
	}
	if len(f.provisions) != 1 {
		t.Errorf("expected exactly 1 provision, got %d", len(f.provisions))
	}
	if got := f.objects[ruleDraft]["description"]; got != "db access\n"+note {
		t.Errorf("unexpected description %q", got)
	}
}

func TestUpdateRuleNoteRemove(t *testing.T) {
	f := newFakePCE()
	f.put(ruleDraft, map[string]any{"description": "db access\n[⏳ 有效期限至: 2025-01-01 23:59 止]"})
	c := setupClient(t, f)

	changed, err := c.UpdateRuleNote(context.Background(), ruleActive, "", true)
	if err != nil || !changed {
		t.Fatalf("expected removal, got changed=%v err=%v", changed, err)
	}
	if got := f.objects[ruleDraft]["description"]; got != "db access" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestProvisionState(t *testing.T) {
	f := newFakePCE()
	f.put(ruleActive, map[string]any{})
	f.put("/orgs/1/sec_policy/draft/rule_sets/7", map[string]any{})
	c := setupClient(t, f)
	ctx := context.Background()

	if !c.IsProvisioned(ctx, ruleDraft) {
		t.Error("expected rule with active copy to be provisioned")
	}
	if got := c.ProvisionState(ctx, "/orgs/1/sec_policy/draft/rule_sets/7"); got != ProvisionDraft {
		t.Errorf("expected draft state, got %s", got)
	}
}

func TestRuleSetListing(t *testing.T) {
	f := newFakePCE()
	f.lists["/orgs/1/sec_policy/draft/rule_sets"] = []map[string]any{
		{"href": "/orgs/1/sec_policy/draft/rule_sets/5", "name": "Web Tier"},
		{"href": "/orgs/1/sec_policy/draft/rule_sets/6", "name": "Database"},
	}
	f.put("/orgs/1/sec_policy/draft/rule_sets/5", map[string]any{
		"name":  "Web Tier",
		"rules": []map[string]any{{"href": ruleDraft, "enabled": true}},
	})
	c := setupClient(t, f)
	ctx := context.Background()

	found, err := c.SearchRuleSets(ctx, "WEB")
	if err != nil {
		t.Fatalf("SearchRuleSets failed: %v", err)
	}
	if len(found) != 1 || found[0].Name != "Web Tier" {
		t.Errorf("expected Web Tier, got %+v", found)
	}

	all, err := c.GetAllRuleSets(ctx, false)
	if err != nil {
		t.Fatalf("GetAllRuleSets failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rule sets, got %d", len(all))
	}

	rs, err := c.GetRuleSetByID(ctx, "5")
	if err != nil {
		t.Fatalf("GetRuleSetByID failed: %v", err)
	}
	if len(rs.Rules) != 1 || rs.Rules[0].Href != ruleDraft {
		t.Errorf("expected nested rule, got %+v", rs.Rules)
	}
}

func TestHrefHelpers(t *testing.T) {
	if got := DraftHref(ruleActive); got != ruleDraft {
		t.Errorf("DraftHref = %s", got)
	}
	if got := ActiveHref(ruleDraft); got != ruleActive {
		t.Errorf("ActiveHref = %s", got)
	}
	if got := RuleSetHref(ruleDraft); got != rsDraft {
		t.Errorf("RuleSetHref = %s", got)
	}
	if got := RuleSetHref(rsDraft); got != rsDraft {
		t.Errorf("RuleSetHref(rule set) = %s", got)
	}
	if !IsRuleSetHref(rsDraft) || IsRuleSetHref(ruleDraft) {
		t.Error("IsRuleSetHref misclassified")
	}
	if got := ExtractID(ruleDraft); got != "12" {
		t.Errorf("ExtractID = %s", got)
	}
}
