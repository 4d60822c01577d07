// Package policy evaluates admission policies for schedules using Open
// Policy Agent.
//
// Every policy is a Rego v1 module whose package defines a "deny" set.
// Each element is either a message string or an object with "message",
// "severity" and optional "field" keys:
//
//	package pcesched.policies.business_hours
//
//	import rego.v1
//
//	# severity: error
//	deny contains violation if {
//		input.schedule.type == "recurring"
//		input.schedule.action == "block"
//		input.schedule.start < "06:00"
//		violation := {"message": "blocks must start after 06:00", "field": "start"}
//	}
//
// The input document has two keys. "schedule" is the record in its persisted
// shape (type, name, is_ruleset, action, days, start, end, expire_at and the
// detail_* fields) plus href, window_minutes, every_day and expire_unix.
// "context" carries operation ("create", "update", "import"), actor,
// timestamp and now_unix.
//
// Violations with severity error or critical reject the operation; the
// others are returned as warnings. Three policies are built in:
// window-length, expiry-in-future and ruleset-scope. Additional policies
// are loaded from .rego or .json files and can be reloaded on change with
// Engine.Watch.
package policy
