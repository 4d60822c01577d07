package pce

import (
	"context"
	"net/http"
	"strings"
)

func absent(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}

// GetLiveItem fetches the committed copy of href, falling back to the draft
// copy when the committed one cannot be read.
//
// The error is ErrNotFound (see IsNotFound) only when every attempted fetch
// returned 404 or 410. Transport failures and any other status are
// unreachable errors, which callers must not mistake for deletion.
func (c *Client) GetLiveItem(ctx context.Context, href string) (*Object, error) {
	active := ActiveHref(href)
	paths := []string{active}
	if draft := DraftHref(href); draft != active {
		paths = append(paths, draft)
	}

	var (
		lastErr    error
		allMissing = true
	)
	for _, path := range paths {
		obj, status, err := c.fetchObject(ctx, path)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if !absent(status) {
			allMissing = false
		}
	}

	if allMissing {
		return nil, &RemoteError{Class: ClassNotFound, Op: "get", Href: href, Status: http.StatusNotFound}
	}
	return nil, lastErr
}

// fetchObject returns the object at path, the HTTP status (0 when none was
// obtained) and an error for anything other than 200.
func (c *Client) fetchObject(ctx context.Context, path string) (*Object, int, error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	if resp.status != http.StatusOK {
		class := ClassUnreachable
		if absent(resp.status) {
			class = ClassNotFound
		}
		return nil, resp.status, &RemoteError{Class: class, Op: "get", Href: path, Status: resp.status, Body: truncateBody(resp.body)}
	}

	obj := &Object{}
	if err := resp.decode(obj); err != nil {
		return nil, resp.status, &RemoteError{Class: ClassUnreachable, Op: "get", Href: path, Status: resp.status, Err: err}
	}
	if obj.Href == "" {
		obj.Href = path
	}
	obj.Namespace = "draft"
	if strings.Contains(path, activeSegment) {
		obj.Namespace = "active"
	}
	return obj, resp.status, nil
}

// ProvisionState reports whether href has a committed copy.
func (c *Client) ProvisionState(ctx context.Context, href string) ProvisionState {
	resp, err := c.get(ctx, ActiveHref(href))
	if err != nil {
		return ProvisionUnknown
	}
	if resp.status == http.StatusOK {
		return ProvisionActive
	}
	return ProvisionDraft
}

// IsProvisioned reports whether the committed copy of href can be fetched.
// Scheduling an object that exists only as a draft is refused.
func (c *Client) IsProvisioned(ctx context.Context, href string) bool {
	return c.ProvisionState(ctx, href) == ProvisionActive
}

// GetAllRuleSets lists the draft rule sets of the organization. The result is
// cached until force is set.
func (c *Client) GetAllRuleSets(ctx context.Context, force bool) ([]Object, error) {
	c.mu.Lock()
	cached := c.ruleSets
	c.mu.Unlock()
	if cached != nil && !force {
		return cached, nil
	}

	path := c.orgPath("/sec_policy/draft/rule_sets")
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, &RemoteError{Class: ClassUnreachable, Op: "list", Href: path, Status: resp.status, Body: truncateBody(resp.body)}
	}

	var sets []Object
	if err := resp.decode(&sets); err != nil {
		return nil, err
	}
	for i := range sets {
		sets[i].Namespace = "draft"
	}

	c.mu.Lock()
	c.ruleSets = sets
	c.mu.Unlock()
	return sets, nil
}

// SearchRuleSets returns the rule sets whose name contains keyword, ignoring case.
func (c *Client) SearchRuleSets(ctx context.Context, keyword string) ([]Object, error) {
	all, err := c.GetAllRuleSets(ctx, false)
	if err != nil {
		return nil, err
	}
	kw := strings.ToLower(keyword)
	var out []Object
	for _, rs := range all {
		if strings.Contains(strings.ToLower(rs.Name), kw) {
			out = append(out, rs)
		}
	}
	return out, nil
}

// GetRuleSetByID fetches one draft rule set, including its rules.
func (c *Client) GetRuleSetByID(ctx context.Context, id string) (*Object, error) {
	obj, _, err := c.fetchObject(ctx, c.orgPath("/sec_policy/draft/rule_sets/%s", id))
	return obj, err
}
