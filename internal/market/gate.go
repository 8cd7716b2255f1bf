// Package market decides whether the exchange is trading right now.
package market

import (
	"fmt"
	"time"

	"autokite/internal/store"
	"autokite/internal/types"
)

type State int

const (
	PreOpen State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case PreOpen:
		return "pre_open"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// Clock is the time source the gate polls.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

type clockTime struct {
	hour, minute int
}

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return clockTime{}, fmt.Errorf("invalid market time %q: %w", s, err)
	}
	return clockTime{hour: t.Hour(), minute: t.Minute()}, nil
}

// Gate is the one-way PreOpen -> Open -> Closed state machine for a single
// trading day. Once Closed it never reopens.
type Gate struct {
	clock         Clock
	open, close   clockTime
	legacy        bool
	allowWeekends bool

	state State
}

func NewGate(cfg *store.Config, clock Clock) (*Gate, error) {
	open, err := parseClock(cfg.Market.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := parseClock(cfg.Market.Close)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Gate{
		clock:         clock,
		open:          open,
		close:         closeAt,
		legacy:        cfg.Market.LegacyClockCompare,
		allowWeekends: cfg.Market.AllowWeekends,
	}, nil
}

func (g *Gate) State() State { return g.state }

// Now reads the gate's clock.
func (g *Gate) Now() time.Time { return g.clock.Now() }

// Poll evaluates the clock and advances the state. Closed is terminal.
func (g *Gate) Poll() State {
	if g.state == Closed {
		return Closed
	}
	now := g.clock.Now().In(types.IST)

	switch {
	case !g.allowWeekends && isWeekend(now):
		g.state = Closed
	case g.closed(now):
		g.state = Closed
	case g.opened(now):
		g.state = Open
	}
	return g.state
}

// Evaluate classifies t without touching the gate state.
func (g *Gate) Evaluate(t time.Time) State {
	t = t.In(types.IST)
	switch {
	case !g.allowWeekends && isWeekend(t):
		return Closed
	case g.closed(t):
		return Closed
	case g.opened(t):
		return Open
	default:
		return PreOpen
	}
}

func (g *Gate) opened(t time.Time) bool {
	if g.legacy {
		return t.Hour() >= g.open.hour && t.Minute() >= g.open.minute
	}
	return !before(t, g.open)
}

func (g *Gate) closed(t time.Time) bool {
	if g.legacy {
		return t.Hour() >= g.close.hour && t.Minute() >= g.close.minute
	}
	return !before(t, g.close)
}

// before compares against the boundary as a single time of day.
func before(t time.Time, c clockTime) bool {
	boundary := time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, t.Location())
	return t.Before(boundary)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
