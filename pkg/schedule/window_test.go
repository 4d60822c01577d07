package schedule

import (
	"testing"
	"time"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.January, day, hour, minute, 0, 0, time.UTC)
}

func TestRecurringInWindowNormal(t *testing.T) {
	r := &Recurring{
		Action: ActionAllow,
		Days:   []time.Weekday{time.Monday},
		Start:  Clock(8, 0),
		End:    Clock(18, 0),
	}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"before start", at(1, 7, 59), false},
		{"at start", at(1, 8, 0), true},
		{"inside", at(1, 10, 0), true},
		{"last minute", at(1, 17, 59), true},
		{"at end", at(1, 18, 0), false},
		{"seconds ignored at end", at(1, 18, 0).Add(30 * time.Second), false},
		{"other day", at(2, 10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.InWindow(tt.now); got != tt.want {
				t.Errorf("InWindow(%s) = %v, want %v", tt.now.Format(time.RFC1123), got, tt.want)
			}
		})
	}
}

func TestRecurringInWindowOvernight(t *testing.T) {
	r := &Recurring{
		Action: ActionAllow,
		Days:   []time.Weekday{time.Friday},
		Start:  Clock(22, 0),
		End:    Clock(6, 0),
	}

	// 2024-01-05 is a Friday.
	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"saturday 03:00 belongs to friday", at(6, 3, 0), true},
		{"friday 23:00", at(5, 23, 0), true},
		{"friday 22:00 start", at(5, 22, 0), true},
		{"saturday 06:00 end", at(6, 6, 0), false},
		{"saturday 07:00", at(6, 7, 0), false},
		{"friday 03:00 needs thursday", at(5, 3, 0), false},
		{"saturday 23:00", at(6, 23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.InWindow(tt.now); got != tt.want {
				t.Errorf("InWindow(%s) = %v, want %v", tt.now.Format(time.RFC1123), got, tt.want)
			}
		})
	}
}

func TestRecurringOvernightSundayToMonday(t *testing.T) {
	r := &Recurring{
		Action: ActionAllow,
		Days:   []time.Weekday{time.Sunday},
		Start:  Clock(23, 0),
		End:    Clock(1, 0),
	}
	// 2024-01-01 00:30 is Monday; yesterday is Sunday.
	if !r.InWindow(at(1, 0, 30)) {
		t.Error("expected monday 00:30 to be inside sunday's overnight window")
	}
}

func TestRecurringDesired(t *testing.T) {
	allow := &Recurring{Action: ActionAllow, Days: []time.Weekday{time.Monday}, Start: Clock(8, 0), End: Clock(18, 0)}
	block := &Recurring{Action: ActionBlock, Days: []time.Weekday{time.Monday}, Start: Clock(8, 0), End: Clock(18, 0)}

	if !allow.Desired(at(1, 10, 0)) {
		t.Error("allow window should enable inside window")
	}
	if allow.Desired(at(2, 10, 0)) {
		t.Error("allow window should disable outside window")
	}
	if block.Desired(at(1, 10, 0)) {
		t.Error("block window should disable inside window")
	}
	if !block.Desired(at(2, 10, 0)) {
		t.Error("block window should enable outside window")
	}
}

func TestEvaluateOneTime(t *testing.T) {
	rec := &Record{Spec: &OneTime{ExpireAt: at(1, 12, 0)}}

	ev, err := Evaluate(rec, at(1, 11, 0))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !ev.Desired || ev.Expired {
		t.Errorf("expected enabled and not expired before expiry, got %+v", ev)
	}

	ev, err = Evaluate(rec, at(1, 12, 1))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ev.Desired || !ev.Expired {
		t.Errorf("expected disabled and expired after expiry, got %+v", ev)
	}

	ev, _ = Evaluate(rec, at(1, 12, 0))
	if ev.Expired {
		t.Error("expiry instant itself should not count as expired")
	}
}

func TestEvaluateRejectsMissingSpec(t *testing.T) {
	if _, err := Evaluate(&Record{}, at(1, 0, 0)); err == nil {
		t.Error("expected error for record without spec")
	}
	if _, err := Evaluate(nil, at(1, 0, 0)); err == nil {
		t.Error("expected error for nil record")
	}
}

func TestRecurringLength(t *testing.T) {
	tests := []struct {
		start, end TimeOfDay
		want       time.Duration
	}{
		{Clock(8, 0), Clock(18, 0), 10 * time.Hour},
		{Clock(22, 0), Clock(6, 0), 8 * time.Hour},
		{Clock(23, 50), Clock(0, 5), 15 * time.Minute},
	}
	for _, tt := range tests {
		r := &Recurring{Start: tt.start, End: tt.end}
		if got := r.Length(); got != tt.want {
			t.Errorf("Length(%s-%s) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
	}
}
