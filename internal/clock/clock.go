package clock

import (
	"sync"
	"time"
)

// Clock is the single source of "now" for scheduling decisions.
type Clock interface {
	Now() time.Time
}

// Real returns wall-clock time expressed in loc. A nil loc means UTC.
func Real(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return realClock{loc: loc}
}

type realClock struct {
	loc *time.Location
}

func (c realClock) Now() time.Time { return time.Now().In(c.loc) }

// Fake returns a settable clock. Time stands still until Set or Advance.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Today returns midnight of the current civil date, in UTC, as seen from
// the clock's location. Comparing civil dates this way keeps "tomorrow"
// stable regardless of the hour the request arrives.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf truncates t to its civil date in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LoadLocation resolves a zone name, treating "" and "Local" the way
// time.LoadLocation does.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
