package pce

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pcesched/pcesched/pkg/notes"
)

// ToggleAndProvision writes enabled to the draft copy of href and provisions
// the owning rule set (href itself when isRuleSet). It does not retry.
func (c *Client) ToggleAndProvision(ctx context.Context, href string, enabled, isRuleSet bool) error {
	draft := DraftHref(href)

	resp, err := c.put(ctx, draft, map[string]bool{"enabled": enabled})
	if err != nil {
		return err
	}
	if !resp.ok() {
		c.logger.Error().Str("href", draft).Int("status", resp.status).Msg("Update failed")
		return rejected("update", draft, resp)
	}

	rs := RuleSetHref(draft)
	if isRuleSet {
		rs = draft
	}
	return c.ProvisionChanges(ctx, rs)
}

// UpdateRuleNote replaces the schedule annotation in the description of href
// with note, or strips it when remove is set, and provisions the change.
// When the description would not change no request is written and changed
// is false.
func (c *Client) UpdateRuleNote(ctx context.Context, href, note string, remove bool) (changed bool, err error) {
	draft := DraftHref(href)

	obj, _, err := c.fetchObject(ctx, draft)
	if err != nil {
		return false, err
	}

	desc := notes.Apply(obj.Description, note, remove)
	if desc == obj.Description {
		return false, nil
	}

	resp, err := c.put(ctx, draft, map[string]string{"description": desc})
	if err != nil {
		return false, err
	}
	if !resp.ok() {
		return false, rejected("update", draft, resp)
	}

	if err := c.ProvisionChanges(ctx, RuleSetHref(draft)); err != nil {
		return true, err
	}
	return true, nil
}

// ProvisionChanges commits the draft rule set at ruleSetHref together with
// every draft object it depends on, in a single provision request. The PCE
// rejects a provision whose dependencies are still uncommitted, so the
// dependency closure is queried first and merged into the change subset.
func (c *Client) ProvisionChanges(ctx context.Context, ruleSetHref string) error {
	subset := ChangeSubset{}
	subset.add("rule_sets", ruleSetHref)

	deps, err := c.Dependencies(ctx, ruleSetHref)
	if err != nil {
		c.logger.Warn().Err(err).Str("ruleset", ruleSetHref).Msg("Dependency lookup failed, provisioning rule set alone")
	}
	for _, kind := range dependencyKinds {
		for _, ref := range deps[kind] {
			subset.add(kind, ref.Href)
		}
	}

	path := c.orgPath("/sec_policy")
	resp, err := c.post(ctx, path, map[string]any{
		"update_description": ProvisionDescription,
		"change_subset":      subset,
	})
	if err != nil {
		return err
	}
	if resp.status != http.StatusCreated {
		c.logger.Error().
			Str("ruleset", ExtractID(ruleSetHref)).
			Int("status", resp.status).
			Str("body", truncateBody(resp.body)).
			Msg("Provision failed")
		return rejected("provision", ruleSetHref, resp)
	}

	c.logger.Debug().Str("ruleset", ruleSetHref).Int("objects", subset.Len()).Msg("Provisioned")
	return nil
}

// Dependencies asks the PCE which draft objects must be committed together
// with ruleSetHref.
func (c *Client) Dependencies(ctx context.Context, ruleSetHref string) (ChangeSubset, error) {
	path := c.orgPath("/sec_policy/draft/dependencies")
	resp, err := c.post(ctx, path, map[string]any{
		"change_subset": ChangeSubset{"rule_sets": {{Href: ruleSetHref}}},
	})
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, rejected("dependencies", ruleSetHref, resp)
	}

	var raw map[string]json.RawMessage
	if err := resp.decode(&raw); err != nil {
		return nil, err
	}
	deps := ChangeSubset{}
	for _, kind := range dependencyKinds {
		msg, ok := raw[kind]
		if !ok {
			continue
		}
		var refs []Ref
		if err := json.Unmarshal(msg, &refs); err != nil {
			c.logger.Debug().Err(err).Str("kind", kind).Msg("Ignoring malformed dependency list")
			continue
		}
		for _, ref := range refs {
			deps.add(kind, ref.Href)
		}
	}
	return deps, nil
}
