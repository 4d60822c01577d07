package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		windowLengthPolicy(),
		expiryInFuturePolicy(),
		ruleSetScopePolicy(),
	}
}

// windowLengthPolicy flags recurring windows too short to survive a
// check interval.
func windowLengthPolicy() Policy {
	return Policy{
		Name:        "window-length",
		Description: "Warns when a recurring window is shorter than 15 minutes",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"recurring"},
		Rego: `package pcesched.policies.window_length

import rego.v1

deny contains violation if {
	input.schedule.type == "recurring"
	input.schedule.window_minutes < 15
	violation := {
		"message": sprintf("window %s-%s lasts only %d minutes and may be missed between checks", [input.schedule.start, input.schedule.end, input.schedule.window_minutes]),
		"severity": "warning",
		"field": "end",
	}
}`,
	}
}

// expiryInFuturePolicy rejects one-time schedules that would expire on the
// next pass.
func expiryInFuturePolicy() Policy {
	return Policy{
		Name:        "expiry-in-future",
		Description: "Rejects one-time schedules whose expiry is not in the future",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"one_time"},
		Rego: `package pcesched.policies.expiry

import rego.v1

deny contains violation if {
	input.schedule.type == "one_time"
	input.context.operation != "import"
	input.schedule.expire_unix <= input.context.now_unix
	violation := {
		"message": sprintf("expiry %s is not in the future", [input.schedule.expire_at]),
		"severity": "error",
		"field": "expire_at",
	}
}`,
	}
}

// ruleSetScopePolicy warns when a whole rule set is blocked all week.
func ruleSetScopePolicy() Policy {
	return Policy{
		Name:        "ruleset-scope",
		Description: "Warns when an entire rule set is scheduled to be blocked every day",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"ruleset"},
		Rego: `package pcesched.policies.ruleset_scope

import rego.v1

deny contains violation if {
	input.schedule.type == "recurring"
	input.schedule.is_ruleset
	input.schedule.action == "block"
	input.schedule.every_day
	violation := {
		"message": sprintf("rule set %q will be disabled every day during %s-%s", [input.schedule.name, input.schedule.start, input.schedule.end]),
		"severity": "warning",
	}
}`,
	}
}
