package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/pcesched/pcesched/pkg/pce"
	"github.com/pcesched/pcesched/pkg/schedule"
	"github.com/pcesched/pcesched/pkg/stores"
)

// ErrNoCatalog is returned by the rule set operations when the manager was
// created without WithCatalog.
var ErrNoCatalog = errors.New("rule set catalog not configured")

// Catalog lists rule sets on the PCE.
type Catalog interface {
	GetAllRuleSets(ctx context.Context, force bool) ([]pce.Object, error)
	SearchRuleSets(ctx context.Context, keyword string) ([]pce.Object, error)
	GetRuleSetByID(ctx context.Context, id string) (*pce.Object, error)
}

// Resolver renders rule actors and services for display.
type Resolver interface {
	ResolveActors(actors []pce.Actor) string
	ResolveServices(services []pce.Service) string
}

// WithCatalog enables rule set browsing.
func WithCatalog(c Catalog, r Resolver) Option {
	return func(m *Manager) {
		m.catalog = c
		m.resolver = r
	}
}

// RuleSetSummary is one rule set in a listing.
type RuleSetSummary struct {
	Href    string `json:"href"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// Scheduled is "self", "child" or empty.
	Scheduled string `json:"scheduled,omitempty"`
}

// RuleRow is one schedulable row of a rule set: the rule set itself or one
// of its rules.
type RuleRow struct {
	Href        string `json:"href"`
	ID          string `json:"id"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Service     string `json:"service"`
	IsRuleSet   bool   `json:"is_ruleset"`
	Scheduled   bool   `json:"scheduled"`
}

// RuleSetDetail is a rule set with its rules.
type RuleSetDetail struct {
	Href  string    `json:"href"`
	Name  string    `json:"name"`
	Rules []RuleRow `json:"rules"`
}

// RuleSets lists rule sets whose name contains query, or all of them when
// query is empty. The full list is refetched from the PCE.
func (m *Manager) RuleSets(ctx context.Context, query string) ([]RuleSetSummary, error) {
	if m.catalog == nil {
		return nil, ErrNoCatalog
	}
	var (
		sets []pce.Object
		err  error
	)
	if query == "" {
		sets, err = m.catalog.GetAllRuleSets(ctx, true)
	} else {
		sets, err = m.catalog.SearchRuleSets(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}

	out := make([]RuleSetSummary, 0, len(sets))
	for i := range sets {
		rs := &sets[i]
		st, err := m.store.ScheduleType(ctx, rs)
		if err != nil {
			return nil, err
		}
		s := RuleSetSummary{Href: rs.Href, ID: pce.ExtractID(rs.Href), Name: rs.Name, Enabled: rs.Enabled}
		if st != stores.ScheduleNone {
			s.Scheduled = st.String()
		}
		out = append(out, s)
	}
	return out, nil
}

// RuleSet returns the rule set with the given ID and its rules. The first
// row is the rule set itself.
func (m *Manager) RuleSet(ctx context.Context, id string) (*RuleSetDetail, error) {
	if m.catalog == nil {
		return nil, ErrNoCatalog
	}
	if loader, ok := m.resolver.(interface{ EnsureLoaded(context.Context) error }); ok {
		if err := loader.EnsureLoaded(ctx); err != nil {
			m.logger.WithError(err).Warn("Failed to load label names")
		}
	}

	rs, err := m.catalog.GetRuleSetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := m.store.GetAll(ctx)
	if err != nil && !stores.IsCorrupt(err) {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}
	scheduled := func(href string) bool {
		_, a := all[pce.ActiveHref(href)]
		_, d := all[pce.DraftHref(href)]
		return a || d
	}

	detail := &RuleSetDetail{Href: rs.Href, Name: rs.Name}
	detail.Rules = append(detail.Rules, RuleRow{
		Href:        rs.Href,
		ID:          pce.ExtractID(rs.Href),
		Description: "[ENTIRE RULESET]",
		Enabled:     rs.Enabled,
		Source:      "All",
		Destination: "All",
		Service:     "All",
		IsRuleSet:   true,
		Scheduled:   scheduled(rs.Href),
	})
	for i := range rs.Rules {
		r := &rs.Rules[i]
		row := RuleRow{
			Href:        r.Href,
			ID:          pce.ExtractID(r.Href),
			Description: r.Description,
			Enabled:     r.Enabled,
			Scheduled:   scheduled(r.Href),
		}
		if m.resolver != nil {
			row.Source = m.resolver.ResolveActors(r.Sources())
			row.Destination = m.resolver.ResolveActors(r.Targets())
			row.Service = m.resolver.ResolveServices(r.IngressServices)
		}
		detail.Rules = append(detail.Rules, row)
	}
	return detail, nil
}

// DescribeTarget builds the display details for a schedule on href from the
// owning rule set.
func (m *Manager) DescribeTarget(ctx context.Context, href string) (schedule.Detail, bool, error) {
	detail, err := m.RuleSet(ctx, pce.ExtractID(pce.RuleSetHref(href)))
	if err != nil {
		return schedule.Detail{}, false, err
	}
	for _, row := range detail.Rules {
		if pce.DraftHref(row.Href) != pce.DraftHref(href) {
			continue
		}
		name := row.Description
		if row.IsRuleSet {
			name = detail.Name
		} else if name == "" {
			name = "Rule " + row.ID
		}
		return schedule.Detail{
			RuleSet:     detail.Name,
			Source:      row.Source,
			Destination: row.Destination,
			Service:     row.Service,
			Name:        name,
		}, row.IsRuleSet, nil
	}
	return schedule.Detail{}, false, fmt.Errorf("%s: %w", href, pce.ErrNotFound)
}
