// Package maintenance guards against the PPSR gateway's weekly outage. The
// gateway is unavailable every Wednesday from 20:00 until midnight, Sydney
// local time, so no purchase or search may start in that window.
package maintenance

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	windowDay       = time.Wednesday
	windowStartHour = 20
)

var sydney = mustLoadLocation("Australia/Sydney")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("maintenance: load %s: %v", name, err))
	}
	return loc
}

// Location is the time zone the window is defined in.
func Location() *time.Location { return sydney }

// Status is the outcome of a window check. WindowEnd and Message are only
// set when Blocked is true.
type Status struct {
	Blocked   bool      `json:"blocked"`
	WindowEnd time.Time `json:"window_end,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// RetryAfter is the time left until the window closes, rounded up to a
// whole second. It is zero when the check did not block.
func (s Status) RetryAfter(now time.Time) time.Duration {
	if !s.Blocked {
		return 0
	}
	d := s.WindowEnd.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1).Truncate(time.Second)
}

// Check evaluates the window for now. The comparison happens in Sydney local
// time, so daylight saving shifts the window in UTC terms.
//
// The window ends at the first instant of Thursday; a Thursday timestamp is
// never blocked.
func Check(now time.Time) Status {
	local := now.In(sydney)
	if local.Weekday() != windowDay || local.Hour() < windowStartHour {
		return Status{}
	}
	end := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, sydney)
	return Status{
		Blocked:   true,
		WindowEnd: end,
		Message:   message(end.Sub(now)),
	}
}

func message(remaining time.Duration) string {
	mins := int((remaining + time.Minute - 1) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	wait := fmt.Sprintf("%d minutes", mins)
	switch {
	case mins == 1:
		wait = "1 minute"
	case mins >= 60:
		wait = fmt.Sprintf("%dh %dm", mins/60, mins%60)
	}
	return "Vehicle checks are unavailable during the PPSR register's scheduled maintenance " +
		"(Wednesdays 8pm to midnight, Sydney time). Please try again in " + wait + "."
}

// Guard binds Check to a clock so callers and tests can pin the time.
type Guard struct {
	Now func() time.Time
}

// NewGuard returns a Guard using the wall clock.
func NewGuard() *Guard {
	return &Guard{Now: time.Now}
}

// Current is the guard's clock reading.
func (g *Guard) Current() time.Time {
	if g == nil || g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Status checks the window at the guard's current time.
func (g *Guard) Status() Status {
	return Check(g.Current())
}
