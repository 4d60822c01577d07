// Package notes maintains the schedule annotations embedded in the description
// of PCE rules and rule sets.
//
// Annotations are bracketed tags appended to the free-text description so the
// schedule is visible in the PCE console. Two tag formats exist, one for
// recurring windows and one for expirations. Their prefixes are fixed: tags
// written by earlier versions of the scheduler must still be recognized and
// stripped.
package notes

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pcesched/pcesched/pkg/schedule"
)

const (
	// RecurringPrefix opens a recurring window tag.
	RecurringPrefix = "[📅 排程:"

	// ExpirationPrefix opens an expiration tag.
	ExpirationPrefix = "[⏳ 有效期限"

	everyDay = "Everyday"
)

var tagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\s*` + regexp.QuoteMeta(RecurringPrefix) + `.*?\]`),
	regexp.MustCompile(`\s*` + regexp.QuoteMeta(ExpirationPrefix) + `.*?\]`),
}

// Strip removes every schedule tag from desc, together with the whitespace
// preceding it, and trims the result.
func Strip(desc string) string {
	for _, re := range tagPatterns {
		desc = re.ReplaceAllString(desc, "")
	}
	return strings.TrimSpace(desc)
}

// HasTag reports whether desc carries a schedule tag.
func HasTag(desc string) bool {
	for _, re := range tagPatterns {
		if re.MatchString(desc) {
			return true
		}
	}
	return false
}

// Apply computes the description that results from replacing the schedule tags
// in current with note. When remove is set, or note is empty, the tags are only
// stripped.
func Apply(current, note string, remove bool) string {
	clean := Strip(current)
	if remove || note == "" {
		return clean
	}
	if clean == "" {
		return note
	}
	return clean + "\n" + note
}

// Recurring builds the tag for a weekly window.
func Recurring(days []time.Weekday, start, end schedule.TimeOfDay, action schedule.Action) string {
	dayText := everyDay
	if len(days) > 0 && !schedule.IsEveryDay(days) {
		dayText = strings.Join(schedule.ShortDayNames(days), ",")
	}
	verb := "Enable"
	if action == schedule.ActionBlock {
		verb = "Disable"
	}
	return fmt.Sprintf("%s %s %s-%s %s]", RecurringPrefix, dayText, start, end, verb)
}

// Expiration builds the tag for a one-time expiration.
func Expiration(expireAt time.Time) string {
	return fmt.Sprintf("%s至: %s 止]", ExpirationPrefix, expireAt.In(time.Local).Format("2006-01-02 15:04"))
}

// For builds the tag describing rec.
func For(rec *schedule.Record) string {
	if rec == nil {
		return ""
	}
	switch s := rec.Spec.(type) {
	case *schedule.Recurring:
		return Recurring(s.Days, s.Start, s.End, s.Action)
	case *schedule.OneTime:
		return Expiration(s.ExpireAt)
	}
	return ""
}
