package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Rule fires at Hour:Minute on each of Days. No days means every day.
type Rule struct {
	Days   []time.Weekday
	Hour   int
	Minute int
}

func (r Rule) validate() error {
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("hour %d out of range 0-23", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("minute %d out of range 0-59", r.Minute)
	}
	for _, d := range r.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	return nil
}

// starBit marks a field as unrestricted so cron ANDs day-of-month with
// day-of-week instead of ORing them.
const starBit = 1 << 63

func bitRange(lo, hi uint) uint64 {
	var b uint64
	for i := lo; i <= hi; i++ {
		b |= 1 << i
	}
	return b
}

func (r Rule) spec(loc *time.Location) *cron.SpecSchedule {
	dow := uint64(0)
	for _, d := range r.Days {
		dow |= 1 << uint(d)
	}
	if dow == 0 {
		dow = bitRange(0, 6) | starBit
	}
	return &cron.SpecSchedule{
		Second:   1 << 0,
		Minute:   1 << uint(r.Minute),
		Hour:     1 << uint(r.Hour),
		Dom:      bitRange(1, 31) | starBit,
		Month:    bitRange(1, 12) | starBit,
		Dow:      dow,
		Location: loc,
	}
}

// Schedule is a set of rules compiled to cron bit fields.
type Schedule struct {
	rules []Rule
	specs []*cron.SpecSchedule
}

// NewSchedule compiles rules in loc (time.Local when nil).
func NewSchedule(loc *time.Location, rules ...Rule) (Schedule, error) {
	if loc == nil {
		loc = time.Local
	}
	s := Schedule{rules: append([]Rule(nil), rules...)}
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return Schedule{}, fmt.Errorf("rule %d: %w", i, err)
		}
		s.specs = append(s.specs, r.spec(loc))
	}
	return s, nil
}

// Rules returns a copy of the compiled rules.
func (s Schedule) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Empty reports whether the schedule never fires.
func (s Schedule) Empty() bool { return len(s.specs) == 0 }

// Next returns the earliest fire strictly after t, or the zero time for an
// empty schedule.
func (s Schedule) Next(t time.Time) time.Time {
	var next time.Time
	for _, sp := range s.specs {
		n := sp.Next(t)
		if n.IsZero() {
			continue
		}
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseDays reads a day list such as "mon-fri", "mon,wed,fri", "sat-sun"
// or "daily". Full names and mixed case are accepted.
func ParseDays(s string) ([]time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "daily" || s == "*" {
		return nil, nil
	}

	seen := make(map[time.Weekday]bool)
	var out []time.Weekday
	add := func(d time.Weekday) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			from, err := parseWeekday(lo)
			if err != nil {
				return nil, err
			}
			to, err := parseWeekday(hi)
			if err != nil {
				return nil, err
			}
			for d := from; ; d = (d + 1) % 7 {
				add(d)
				if d == to {
					break
				}
			}
			continue
		}
		d, err := parseWeekday(part)
		if err != nil {
			return nil, err
		}
		add(d)
	}
	return out, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 3 {
		if d, ok := weekdayNames[s[:3]]; ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
