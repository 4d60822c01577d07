package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var dayPrefixes = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// ParseDay normalizes a weekday name. Matching is case-insensitive and uses
// the first three letters, so "mon", "Mon" and "Monday" are the same day.
func ParseDay(s string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	if len(n) >= 3 {
		if d, ok := dayPrefixes[n[:3]]; ok {
			return d, nil
		}
	}
	return 0, invalid("days", fmt.Sprintf("unknown weekday %q", s))
}

// NormalizeDay returns the canonical full name for a weekday name.
func NormalizeDay(s string) (string, error) {
	d, err := ParseDay(s)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// ParseDays parses and de-duplicates weekday names. Entries may also be
// comma separated ("Mon,Wed"). The result is ordered Monday first.
func ParseDays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			d, err := ParseDay(part)
			if err != nil {
				return nil, err
			}
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	SortDays(out)
	return out, nil
}

// SortDays orders days Monday through Sunday.
func SortDays(days []time.Weekday) {
	sort.Slice(days, func(i, j int) bool {
		return mondayIndex(days[i]) < mondayIndex(days[j])
	})
}

func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// AllDays returns every weekday, Monday first.
func AllDays() []time.Weekday {
	return []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
}

// IsEveryDay reports whether days covers the whole week.
func IsEveryDay(days []time.Weekday) bool {
	seen := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		seen[d] = true
	}
	return len(seen) == 7
}

// DayNames returns the canonical names of days.
func DayNames(days []time.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()
	}
	return out
}

// ShortDayNames returns three-letter names of days.
func ShortDayNames(days []time.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()[:3]
	}
	return out
}
