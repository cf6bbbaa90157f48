package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule resolves spec.md §3's unspecified "interval or crontab-like"
// iteration specifier: a ScheduledCall.Schedule string is either
// "@every <duration>" or a standard 5-field crontab expression. Both
// forms resolve to this interface so the beat loop's due-check is
// uniform regardless of which form a given call uses.
type Schedule interface {
	// Next returns the first fire time strictly after last. For a zero
	// last (never run), an interval schedule returns the zero time, so
	// the entry is due at once; a crontab schedule returns its first fire
	// time after one second before the present.
	Next(last time.Time) time.Time
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses spec into a Schedule. An "@every" prefix is
// handled directly (cron/v3's own "@every" support exists but ties the
// duration grammar to its parser version; spelling it out here keeps
// the duration syntax pinned to Go's time.ParseDuration, which callers
// already know).
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if rest, ok := strings.CutPrefix(spec, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("parse interval schedule %q: %w", spec, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval schedule %q must be positive", spec)
		}
		return intervalSchedule{period: d}, nil
	}

	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse crontab schedule %q: %w", spec, err)
	}
	return cronSchedule{sched: sched}, nil
}

type intervalSchedule struct {
	period time.Duration
}

func (s intervalSchedule) Next(last time.Time) time.Time {
	if last.IsZero() {
		return last
	}
	return last.Add(s.period)
}

type cronSchedule struct {
	sched cron.Schedule
}

func (s cronSchedule) Next(last time.Time) time.Time {
	if last.IsZero() {
		return s.sched.Next(time.Now().Add(-time.Second))
	}
	return s.sched.Next(last)
}
