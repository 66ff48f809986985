package clock

import (
	"sync"
	"time"
)

// Clock is the engine's source of the current trading time. The state
// machine and scheduler take it as a dependency so tests and the
// simulation can move time forward without waiting.
type Clock interface {
	Now() time.Time
}

// Calendar is a wall clock with an advanceable offset, standing in for
// the logical trading calendar. Advancing it moves trade and settlement
// date computations forward without touching the host clock.
type Calendar struct {
	mu     sync.RWMutex
	offset time.Duration
}

func NewCalendar() *Calendar {
	return &Calendar{}
}

func (c *Calendar) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Advance moves the calendar forward by d. Negative values are ignored;
// the trading calendar never runs backwards.
func (c *Calendar) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// AdvanceDays moves the calendar forward by n whole days.
func (c *Calendar) AdvanceDays(n int) {
	c.Advance(time.Duration(n) * 24 * time.Hour)
}

// AddTradingDays returns t plus n trading days, skipping weekends.
// Used to compute the settlement date from the trade date.
func AddTradingDays(t time.Time, n int) time.Time {
	for n > 0 {
		t = t.Add(24 * time.Hour)
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n--
		}
	}
	return t
}

// TradingDaysBetween counts whole trading days from start to end,
// skipping weekends. Returns 0 when end is not after start.
func TradingDaysBetween(start, end time.Time) int {
	days := 0
	for t := start.Add(24 * time.Hour); !t.After(end); t = t.Add(24 * time.Hour) {
		if wd := t.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}
