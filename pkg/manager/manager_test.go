package manager

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/policy"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
)

const (
	rsHref    = "/orgs/1/sec_policy/active/rule_sets/5"
	ruleHref  = "/orgs/1/sec_policy/active/rule_sets/5/sec_rules/12"
	rule2Href = "/orgs/1/sec_policy/active/rule_sets/8/sec_rules/12"
	otherHref = "/orgs/1/sec_policy/active/rule_sets/5/sec_rules/30"
)

type noteCall struct {
	href   string
	note   string
	remove bool
}

type fakeRemote struct {
	mu          sync.Mutex
	provisioned map[string]bool
	objects     map[string]*pce.Object
	down        map[string]bool
	noteErr     error
	notes       []noteCall
	ruleSets    []pce.Object
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		provisioned: map[string]bool{},
		objects:     map[string]*pce.Object{},
		down:        map[string]bool{},
	}
}

func (f *fakeRemote) GetLiveItem(_ context.Context, href string) (*pce.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[href] {
		return nil, &pce.RemoteError{Class: pce.ClassUnreachable, Op: "get", Href: href, Status: 500}
	}
	obj, ok := f.objects[href]
	if !ok {
		return nil, &pce.RemoteError{Class: pce.ClassNotFound, Op: "get", Href: href, Status: 404}
	}
	return obj, nil
}

func (f *fakeRemote) IsProvisioned(_ context.Context, href string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provisioned[href]
}

func (f *fakeRemote) UpdateRuleNote(_ context.Context, href, note string, remove bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, noteCall{href, note, remove})
	return f.noteErr == nil, f.noteErr
}

func (f *fakeRemote) GetAllRuleSets(context.Context, bool) ([]pce.Object, error) {
	return f.ruleSets, nil
}

func (f *fakeRemote) SearchRuleSets(_ context.Context, keyword string) ([]pce.Object, error) {
	var out []pce.Object
	for _, rs := range f.ruleSets {
		if strings.Contains(strings.ToLower(rs.Name), strings.ToLower(keyword)) {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (f *fakeRemote) GetRuleSetByID(_ context.Context, id string) (*pce.Object, error) {
	for i := range f.ruleSets {
		if pce.ExtractID(f.ruleSets[i].Href) == id {
			return &f.ruleSets[i], nil
		}
	}
	return nil, &pce.RemoteError{Class: pce.ClassNotFound, Op: "get", Href: id, Status: 404}
}

type fakeResolver struct{}

func (fakeResolver) ResolveActors(actors []pce.Actor) string {
	if len(actors) == 0 {
		return "Any"
	}
	return actors[0].Actors
}

func (fakeResolver) ResolveServices([]pce.Service) string { return "All Services" }

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var evalTime = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*Manager, *stores.SQLiteStore, *fakeRemote) {
	t.Helper()
	store := newTestStore(t)
	remote := newFakeRemote()
	remote.provisioned[ruleHref] = true
	remote.provisioned[rsHref] = true

	policies, err := policy.NewEngine(zerolog.Nop(), policy.WithNow(func() time.Time { return evalTime }))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return New(store, remote, WithPolicies(policies), WithCatalog(remote, fakeResolver{})), store, remote
}

func recurring(t *testing.T, name string, isRuleSet bool, action string, days []string, start, end string) *schedule.Record {
	t.Helper()
	rec, err := schedule.NewRecurring(name, isRuleSet, action, days, start, end)
	if err != nil {
		t.Fatalf("NewRecurring failed: %v", err)
	}
	return rec
}

func TestAddStoresAndTags(t *testing.T) {
	m, store, remote := newTestManager(t)
	ctx := context.Background()
	rec := recurring(t, "Office", false, "allow", []string{"Mon", "Tue"}, "08:00", "18:00")

	res, err := m.Add(ctx, AddRequest{Href: ruleHref, Record: rec, Actor: "api"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if res.Overwritten {
		t.Error("first add should not overwrite")
	}
	if !res.NoteChanged || res.NoteError != nil {
		t.Errorf("unexpected note result %+v", res)
	}

	if _, err := store.Get(ctx, ruleHref); err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if len(remote.notes) != 1 || remote.notes[0].remove || !strings.Contains(remote.notes[0].note, "08:00-18:00") {
		t.Errorf("unexpected note calls %+v", remote.notes)
	}

	res, err = m.Add(ctx, AddRequest{Href: ruleHref, Record: rec})
	if err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if !res.Overwritten {
		t.Error("second add should overwrite")
	}

	action := stores.AuditScheduleUpdated
	entries, err := store.ListAuditEntries(ctx, &action, nil, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Actor != "cli" {
		t.Errorf("unexpected audit entries %+v", entries)
	}
}

func TestAddRejectsUnprovisioned(t *testing.T) {
	m, store, remote := newTestManager(t)
	rec := recurring(t, "New", false, "allow", nil, "08:00", "18:00")

	_, err := m.Add(context.Background(), AddRequest{Href: otherHref, Record: rec})
	if !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}
	if _, err := store.Get(context.Background(), otherHref); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("record should not be stored: %v", err)
	}
	if len(remote.notes) != 0 {
		t.Errorf("no note should be written: %+v", remote.notes)
	}
}

func TestAddRejectedByPolicy(t *testing.T) {
	m, store, _ := newTestManager(t)
	rec, err := schedule.NewOneTime("Old", false, "2023-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}

	_, err = m.Add(context.Background(), AddRequest{Href: ruleHref, Record: rec})
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
	if !strings.Contains(perr.Error(), "expiry-in-future") {
		t.Errorf("unexpected message %q", perr.Error())
	}
	if _, err := store.Get(context.Background(), ruleHref); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("rejected record was stored: %v", err)
	}
}

func TestAddKeepsRecordWhenNoteFails(t *testing.T) {
	m, store, remote := newTestManager(t)
	remote.noteErr = errors.New("pce down")
	rec := recurring(t, "Office", false, "allow", nil, "08:00", "18:00")

	res, err := m.Add(context.Background(), AddRequest{Href: ruleHref, Record: rec})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if res.NoteError == nil {
		t.Error("expected note error to be reported")
	}
	if _, err := store.Get(context.Background(), ruleHref); err != nil {
		t.Errorf("record should be kept: %v", err)
	}
}

func TestAddInvalid(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Add(context.Background(), AddRequest{Href: ruleHref}); err == nil {
		t.Error("expected error for missing record")
	}
	rec := recurring(t, "Office", false, "allow", nil, "08:00", "18:00")
	if _, err := m.Add(context.Background(), AddRequest{Href: " ", Record: rec}); err == nil {
		t.Error("expected error for missing href")
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		noteErr error
	}{
		{name: "by href", ref: ruleHref},
		{name: "by id", ref: "12"},
		{name: "note failure", ref: ruleHref, noteErr: errors.New("unreachable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, remote := newTestManager(t)
			ctx := context.Background()
			if err := store.Put(ctx, ruleHref, recurring(t, "Office", false, "allow", nil, "08:00", "18:00")); err != nil {
				t.Fatal(err)
			}
			remote.noteErr = tt.noteErr

			res, err := m.Delete(ctx, tt.ref, "cli")
			if err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if res.Href != ruleHref {
				t.Errorf("Href = %s", res.Href)
			}
			if (res.NoteError != nil) != (tt.noteErr != nil) {
				t.Errorf("NoteError = %v", res.NoteError)
			}
			if len(remote.notes) != 1 || !remote.notes[0].remove {
				t.Errorf("expected one note removal, got %+v", remote.notes)
			}
			if _, err := store.Get(ctx, ruleHref); !errors.Is(err, stores.ErrNotFound) {
				t.Errorf("record not deleted: %v", err)
			}
		})
	}
}

func TestDeleteUnknownAndAmbiguous(t *testing.T) {
	m, store, remote := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Delete(ctx, "999", "cli"); !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	rec := recurring(t, "Office", false, "allow", nil, "08:00", "18:00")
	for _, href := range []string{ruleHref, rule2Href} {
		if err := store.Put(ctx, href, rec); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Delete(ctx, "12", "cli"); !errors.Is(err, ErrAmbiguousID) {
		t.Errorf("expected ErrAmbiguousID, got %v", err)
	}
	if len(remote.notes) != 0 {
		t.Errorf("no note should be touched: %+v", remote.notes)
	}
}

func TestListGroupsWithLiveStatus(t *testing.T) {
	m, store, remote := newTestManager(t)
	ctx := context.Background()

	rs := recurring(t, "Web", true, "block", []string{"Sat", "Sun"}, "00:00", "06:00")
	rs.Detail = schedule.Detail{RuleSet: "Web", Name: "Web"}
	rule := recurring(t, "Rule", false, "allow", nil, "08:00", "18:00")
	rule.Detail = schedule.Detail{RuleSet: "Web", Name: "allow http"}
	orphan, _ := schedule.NewOneTime("Temp", false, "2030-01-01T09:30:00Z")

	for href, rec := range map[string]*schedule.Record{rsHref: rs, ruleHref: rule, otherHref: orphan} {
		if err := store.Put(ctx, href, rec); err != nil {
			t.Fatal(err)
		}
	}
	remote.objects[rsHref] = &pce.Object{Href: rsHref, Name: "Web live", Enabled: true}
	remote.down[otherHref] = true

	groups, err := m.List(ctx, true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(groups) != 2 || groups[0].RuleSet != "Uncategorized" || groups[1].RuleSet != "Web" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	web := groups[1]
	if web.Self == nil || web.Self.Href != rsHref {
		t.Fatalf("rule set entry missing: %+v", web)
	}
	if web.Self.Mode != "BLOCK" || web.Self.Timing != "Sat,Sun 00:00-06:00" {
		t.Errorf("rule set entry = %+v", web.Self)
	}
	if web.Self.Live.Status != LiveOK || web.Self.Live.Name != "Web live" {
		t.Errorf("rule set live = %+v", web.Self.Live)
	}
	if len(web.Rules) != 1 || web.Rules[0].Live.Status != LiveDeleted || web.Rules[0].Timing != "Everyday 08:00-18:00" {
		t.Errorf("rule entries = %+v", web.Rules)
	}
	if web.Rules[0].Name != "allow http" || web.Rules[0].ID != "12" {
		t.Errorf("rule entry = %+v", web.Rules[0])
	}

	other := groups[0].Rules[0]
	if other.Live.Status != LiveUnreachable || other.Mode != "EXPIRE" || !strings.HasPrefix(other.Timing, "Until ") {
		t.Errorf("orphan entry = %+v", other)
	}

	groups, err = m.List(ctx, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if groups[1].Self.Live != nil {
		t.Error("live status should be omitted")
	}
}

func TestImportExport(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := `{
    "` + ruleHref + `": {"type": "recurring", "name": "Office", "is_ruleset": false, "action": "allow",
        "days": ["Monday"], "start": "08:00", "end": "08:05"},
    "` + rsHref + `": {"type": "one_time", "name": "Web", "is_ruleset": true, "action": "allow",
        "expire_at": "2023-01-01T00:00"}
}`
	res, err := m.Import(ctx, strings.NewReader(doc), false, "cli")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if res.Count != 2 {
		t.Errorf("Count = %d", res.Count)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Policy != "window-length" {
		t.Errorf("Warnings = %+v", res.Warnings)
	}

	all, err := store.GetAll(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("GetAll = %d, %v", len(all), err)
	}

	var buf bytes.Buffer
	if err := m.Export(ctx, &buf, "json"); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	back, err := schedule.ReadDocument(&buf)
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if len(back) != 2 || back[ruleHref].Name != "Office" {
		t.Errorf("unexpected export %+v", back)
	}

	buf.Reset()
	if err := m.Export(ctx, &buf, "yaml"); err != nil {
		t.Fatalf("Export yaml failed: %v", err)
	}
	if !strings.Contains(buf.String(), "type: recurring") {
		t.Errorf("unexpected yaml:\n%s", buf.String())
	}
	if err := m.Export(ctx, &buf, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	m, store, _ := newTestManager(t)
	doc := `{"` + ruleHref + `": {"type": "recurring", "name": "x", "days": ["Funday"], "start": "08:00", "end": "09:00"}}`

	if _, err := m.Import(context.Background(), strings.NewReader(doc), false, "cli"); err == nil {
		t.Fatal("expected error for unknown day")
	}
	all, _ := store.GetAll(context.Background())
	if len(all) != 0 {
		t.Errorf("nothing should be stored, got %d", len(all))
	}
}

func TestRuleSets(t *testing.T) {
	m, store, remote := newTestManager(t)
	ctx := context.Background()
	remote.ruleSets = []pce.Object{
		{Href: rsHref, Name: "Web", Enabled: true, Rules: []pce.Rule{
			{Href: ruleHref, Enabled: true, Description: "allow http", Consumers: []pce.Actor{{Actors: "ams"}}},
			{Href: otherHref, Enabled: false},
		}},
		{Href: "/orgs/1/sec_policy/draft/rule_sets/8", Name: "Database"},
	}
	if err := store.Put(ctx, ruleHref, recurring(t, "Office", false, "allow", nil, "08:00", "18:00")); err != nil {
		t.Fatal(err)
	}

	list, err := m.RuleSets(ctx, "")
	if err != nil {
		t.Fatalf("RuleSets failed: %v", err)
	}
	if len(list) != 2 || list[0].Scheduled != "child" || list[1].Scheduled != "" {
		t.Errorf("unexpected listing %+v", list)
	}

	found, err := m.RuleSets(ctx, "data")
	if err != nil || len(found) != 1 || found[0].ID != "8" {
		t.Errorf("search = %+v, %v", found, err)
	}

	detail, err := m.RuleSet(ctx, "5")
	if err != nil {
		t.Fatalf("RuleSet failed: %v", err)
	}
	if len(detail.Rules) != 3 || !detail.Rules[0].IsRuleSet {
		t.Fatalf("unexpected rows %+v", detail.Rules)
	}
	if !detail.Rules[1].Scheduled || detail.Rules[1].Source != "ams" || detail.Rules[2].Scheduled {
		t.Errorf("unexpected rule rows %+v", detail.Rules[1:])
	}

	d, isRS, err := m.DescribeTarget(ctx, ruleHref)
	if err != nil {
		t.Fatalf("DescribeTarget failed: %v", err)
	}
	if isRS || d.RuleSet != "Web" || d.Name != "allow http" || d.Service != "All Services" {
		t.Errorf("unexpected detail %+v", d)
	}
	d, _, err = m.DescribeTarget(ctx, otherHref)
	if err != nil || d.Name != "Rule 30" {
		t.Errorf("unnamed rule detail = %+v, %v", d, err)
	}

	if _, err := New(store, remote).RuleSets(ctx, ""); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("expected ErrNoCatalog, got %v", err)
	}
}
