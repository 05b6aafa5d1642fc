// Package schedule evaluates six-field (second resolution) crontab expressions.
//
// The evaluator is a pure function of (expression, instant): callers always
// pass the current wall-clock time, never a previously targeted instant, so a
// late timer never produces a burst of catch-up runs.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
)

const (
	EngineRobfig = "robfig"
	EngineGronx  = "gronx"
)

var (
	ErrInvalidExpression = errors.New("invalid crontab expression")
	ErrNoNextOccurrence  = errors.New("schedule has no future occurrence")
)

// Schedule yields the first activation strictly after from.
// A zero time means the schedule can never fire again.
type Schedule interface {
	Next(from time.Time) time.Time
}

type ParseOptions struct {
	Engine   string         // "robfig" (default) or "gronx"
	Location *time.Location // nil means UTC
}

// six fields, seconds required (Second is not optional here).
var secondsParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates expr and returns its schedule. It rejects anything other
// than six fields, including descriptors such as "@hourly".
func Parse(expr string, opt ParseOptions) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidExpression)
	}
	if n := len(strings.Fields(expr)); n != 6 {
		return nil, fmt.Errorf("%w: %q has %d fields, want 6 (sec min hour dom month dow)", ErrInvalidExpression, expr, n)
	}
	loc := opt.Location
	if loc == nil {
		loc = time.UTC
	}

	var s Schedule
	switch strings.ToLower(strings.TrimSpace(opt.Engine)) {
	case "", EngineRobfig:
		cs, err := secondsParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, expr, err)
		}
		s = robfigSchedule{expr: expr, s: cs, loc: loc}
	case EngineGronx:
		if !gronx.IsValid(expr) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
		}
		s = gronxSchedule{expr: expr, loc: loc}
	default:
		return nil, fmt.Errorf("unknown schedule engine %q", opt.Engine)
	}

	// Catch calendars that can never match (e.g. Feb 30) at parse time
	// rather than on the first rearm.
	if s.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("%w: %q never fires", ErrInvalidExpression, expr)
	}
	return s, nil
}

// Delay returns how long to wait from now until the next occurrence.
func Delay(s Schedule, now time.Time) (time.Duration, error) {
	if s == nil {
		return 0, ErrNoNextOccurrence
	}
	next := s.Next(now)
	if next.IsZero() || !next.After(now) {
		return 0, fmt.Errorf("%w (from %s)", ErrNoNextOccurrence, now.Format(time.RFC3339Nano))
	}
	return next.Sub(now), nil
}

// String returns the source expression when s came from Parse.
func String(s Schedule) string {
	if st, ok := s.(fmt.Stringer); ok {
		return st.String()
	}
	return ""
}

type robfigSchedule struct {
	expr string
	s    cron.Schedule
	loc  *time.Location
}

func (r robfigSchedule) Next(from time.Time) time.Time {
	return r.s.Next(from.In(r.loc))
}

func (r robfigSchedule) String() string { return r.expr }

type gronxSchedule struct {
	expr string
	loc  *time.Location
}

func (g gronxSchedule) Next(from time.Time) time.Time {
	ref := from.In(g.loc)
	next, err := gronx.NextTickAfter(g.expr, ref, false)
	if err != nil {
		return time.Time{}
	}
	// gronx works at whole-second resolution; step past a sub-second reference.
	for i := 0; i < 3 && !next.After(ref); i++ {
		next, err = gronx.NextTickAfter(g.expr, next.Add(time.Second), true)
		if err != nil {
			return time.Time{}
		}
	}
	if !next.After(ref) {
		return time.Time{}
	}
	return next
}

func (g gronxSchedule) String() string { return g.expr }
