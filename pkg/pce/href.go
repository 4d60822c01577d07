package pce

import "strings"

const (
	activeSegment = "/active/"
	draftSegment  = "/draft/"

	// ruleSetSegments is the number of "/"-separated parts in a rule set href,
	// counting the empty leading part: /orgs/{org}/sec_policy/draft/rule_sets/{id}.
	ruleSetSegments = 7
)

// ActiveHref returns the committed-namespace form of href.
func ActiveHref(href string) string {
	return strings.Replace(href, draftSegment, activeSegment, 1)
}

// DraftHref returns the editable-namespace form of href.
func DraftHref(href string) string {
	return strings.Replace(href, activeSegment, draftSegment, 1)
}

// RuleSetHref returns the href of the rule set owning href. A rule set href is
// returned unchanged.
func RuleSetHref(href string) string {
	parts := strings.Split(href, "/")
	if len(parts) <= ruleSetSegments {
		return href
	}
	return strings.Join(parts[:ruleSetSegments], "/")
}

// IsRuleSetHref reports whether href names a rule set rather than a rule.
func IsRuleSetHref(href string) bool {
	parts := strings.Split(strings.TrimSuffix(href, "/"), "/")
	return len(parts) == ruleSetSegments && parts[ruleSetSegments-2] == "rule_sets"
}

// ExtractID returns the last path segment of href.
func ExtractID(href string) string {
	href = strings.TrimSuffix(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}
