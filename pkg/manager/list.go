package manager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
)

// Live statuses reported by List.
const (
	LiveOK          = "ok"
	LiveDeleted     = "deleted"
	LiveUnreachable = "unreachable"
)

const uncategorized = "Uncategorized"

// LiveStatus is the state of a scheduled object on the PCE.
type LiveStatus struct {
	Status      string `json:"status"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Entry is one schedule in a listing.
type Entry struct {
	Href      string      `json:"href"`
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	IsRuleSet bool        `json:"is_ruleset"`
	Kind      string      `json:"type"`
	Mode      string      `json:"mode"`
	Timing    string      `json:"timing"`
	Live      *LiveStatus `json:"live,omitempty"`

	Record *schedule.Record `json:"-"`
}

// Group is the schedules belonging to one rule set.
type Group struct {
	RuleSet string `json:"ruleset"`

	// Self is the schedule on the rule set itself, if any.
	Self  *Entry  `json:"self,omitempty"`
	Rules []Entry `json:"rules"`
}

// List returns every schedule grouped by rule set name, groups and entries in
// sorted order. With withLive set each entry is annotated with the object's
// current state on the PCE.
func (m *Manager) List(ctx context.Context, withLive bool) ([]Group, error) {
	all, err := m.store.GetAll(ctx)
	if stores.IsCorrupt(err) {
		m.logger.WithError(err).Warn("Listing without undecodable schedules")
	} else if err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}

	groups := make(map[string]*Group)
	hrefs := schedule.Document(all).Hrefs()
	for _, href := range hrefs {
		rec := all[href]
		key := rec.Detail.RuleSet
		if key == "" {
			key = uncategorized
		}
		g, ok := groups[key]
		if !ok {
			g = &Group{RuleSet: key}
			groups[key] = g
		}

		entry := NewEntry(href, rec)
		if withLive {
			entry.Live = m.liveStatus(ctx, href)
		}
		if rec.IsRuleSet {
			e := entry
			g.Self = &e
		} else {
			g.Rules = append(g.Rules, entry)
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Group, 0, len(names))
	for _, name := range names {
		out = append(out, *groups[name])
	}
	return out, nil
}

func (m *Manager) liveStatus(ctx context.Context, href string) *LiveStatus {
	obj, err := m.remote.GetLiveItem(ctx, href)
	switch {
	case err == nil:
		return &LiveStatus{Status: LiveOK, Name: obj.Name, Description: obj.Description, Enabled: obj.Enabled}
	case pce.IsNotFound(err):
		return &LiveStatus{Status: LiveDeleted}
	default:
		m.logger.WithHref(href).WithError(err).Debug("Live status unavailable")
		return &LiveStatus{Status: LiveUnreachable}
	}
}

// NewEntry renders rec for display.
func NewEntry(href string, rec *schedule.Record) Entry {
	name := rec.Detail.Name
	if name == "" {
		name = rec.Name
	}
	e := Entry{
		Href:      href,
		ID:        pce.ExtractID(href),
		Name:      name,
		IsRuleSet: rec.IsRuleSet,
		Kind:      string(rec.Kind()),
		Record:    rec,
	}
	switch s := rec.Spec.(type) {
	case *schedule.Recurring:
		e.Mode = strings.ToUpper(string(s.Action))
		e.Timing = fmt.Sprintf("%s %s-%s", dayText(s.Days), s.Start, s.End)
	case *schedule.OneTime:
		e.Mode = "EXPIRE"
		e.Timing = "Until " + strings.Replace(schedule.FormatExpiry(s.ExpireAt), "T", " ", 1)
	}
	return e
}

func dayText(days []time.Weekday) string {
	if schedule.IsEveryDay(days) {
		return "Everyday"
	}
	return strings.Join(schedule.ShortDayNames(days), ",")
}
