package pce

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// LabelCache maps label and IP list hrefs to display names. It is filled by
// Refresh and never evicts; its size is bounded by the organization.
type LabelCache struct {
	client *Client

	mu     sync.RWMutex
	names  map[string]string
	loaded bool
}

func newLabelCache(c *Client) *LabelCache {
	return &LabelCache{client: c, names: make(map[string]string)}
}

// Refresh reloads labels and draft IP lists from the PCE. Entries from a
// previous refresh are kept when a list cannot be fetched.
func (lc *LabelCache) Refresh(ctx context.Context) error {
	c := lc.client
	names := make(map[string]string)

	var labels []label
	if err := lc.fetch(ctx, c.orgPath("/labels"), &labels); err != nil {
		return err
	}
	for _, l := range labels {
		names[l.Href] = fmt.Sprintf("%s:%s", l.Key, l.Value)
	}

	var lists []ipList
	if err := lc.fetch(ctx, c.orgPath("/sec_policy/draft/ip_lists"), &lists); err != nil {
		return err
	}
	for _, l := range lists {
		names[l.Href] = "[IPList] " + l.Name
	}

	lc.mu.Lock()
	for k, v := range names {
		lc.names[k] = v
	}
	lc.loaded = true
	lc.mu.Unlock()

	c.logger.Debug().Int("entries", len(names)).Msg("Label cache refreshed")
	return nil
}

// EnsureLoaded refreshes the cache if it has never been filled.
func (lc *LabelCache) EnsureLoaded(ctx context.Context) error {
	lc.mu.RLock()
	loaded := lc.loaded
	lc.mu.RUnlock()
	if loaded {
		return nil
	}
	return lc.Refresh(ctx)
}

func (lc *LabelCache) fetch(ctx context.Context, path string, v any) error {
	resp, err := lc.client.get(ctx, path)
	if err != nil {
		return err
	}
	if resp.status != http.StatusOK {
		return &RemoteError{Class: ClassUnreachable, Op: "list", Href: path, Status: resp.status, Body: truncateBody(resp.body)}
	}
	return resp.decode(v)
}

// Name returns the cached display name for href.
func (lc *LabelCache) Name(href string) (string, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	name, ok := lc.names[href]
	return name, ok
}

// Len returns the number of cached entries.
func (lc *LabelCache) Len() int {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return len(lc.names)
}

func (lc *LabelCache) nameOr(href, fallback string) string {
	if name, ok := lc.Name(href); ok {
		return name
	}
	return fallback
}

// ResolveActors renders a rule's actor list for display.
func (lc *LabelCache) ResolveActors(actors []Actor) string {
	if len(actors) == 0 {
		return "Any"
	}
	names := make([]string, 0, len(actors))
	for _, a := range actors {
		switch {
		case a.Label != nil:
			names = append(names, lc.nameOr(a.Label.Href, "Label"))
		case a.LabelGroup != nil:
			names = append(names, lc.nameOr(a.LabelGroup.Href, "LabelGroup"))
		case a.IPList != nil:
			names = append(names, lc.nameOr(a.IPList.Href, "IPList"))
		case a.Workload != nil:
			names = append(names, "Workload("+ExtractID(a.Workload.Href)+")")
		case a.Actors != "":
			names = append(names, a.Actors)
		}
	}
	return strings.Join(names, ", ")
}

// ResolveServices renders a rule's service list for display.
func (lc *LabelCache) ResolveServices(services []Service) string {
	if len(services) == 0 {
		return "All Services"
	}
	out := make([]string, 0, len(services))
	for _, s := range services {
		switch {
		case s.Port != nil:
			proto := "TCP"
			if s.Proto != nil && *s.Proto == 17 {
				proto = "UDP"
			}
			svc := fmt.Sprintf("%s/%d", proto, *s.Port)
			if s.ToPort != nil && *s.ToPort != 0 {
				svc += fmt.Sprintf("-%d", *s.ToPort)
			}
			out = append(out, svc)
		case s.Href != "":
			out = append(out, "Service("+ExtractID(s.Href)+")")
		default:
			out = append(out, "RefObj")
		}
	}
	return strings.Join(out, ", ")
}
