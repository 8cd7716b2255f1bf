package historical

import (
	"fmt"
	"time"

	"autokite/internal/types"
)

// Window is an inclusive date range covered by one historical call.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Days() int {
	return daysBetween(w.From, w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.From.Format(time.DateOnly), w.To.Format(time.DateOnly))
}

// Plan splits [start, today] into ceil(days/maxDays) windows of at most
// maxDays each. Consecutive windows share their seam date, so
// windows[i].To == windows[i+1].From, and the last window ends on today.
// A range that starts and ends on the same day is a single window.
func Plan(start, today time.Time, maxDays int) ([]Window, error) {
	if maxDays < 1 {
		return nil, fmt.Errorf("max window days must be positive, got %d", maxDays)
	}
	start, today = dateOf(start), dateOf(today)
	if start.After(today) {
		return nil, fmt.Errorf("start date %s is after %s", start.Format(time.DateOnly), today.Format(time.DateOnly))
	}

	total := daysBetween(start, today)
	if total == 0 {
		return []Window{{From: start, To: today}}, nil
	}

	windows := make([]Window, 0, (total+maxDays-1)/maxDays)
	from := start
	for from.Before(today) {
		to := from.AddDate(0, 0, maxDays)
		if to.After(today) {
			to = today
		}
		if !to.After(from) {
			return nil, fmt.Errorf("%w: window at %s", ErrWindowStalled, from.Format(time.DateOnly))
		}
		windows = append(windows, Window{From: from, To: to})
		from = to
	}
	return windows, nil
}

// dateOf truncates t to midnight IST on its IST calendar date.
func dateOf(t time.Time) time.Time {
	t = t.In(types.IST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, types.IST)
}

func daysBetween(from, to time.Time) int {
	// IST has no DST, so every calendar day is exactly 24h.
	return int(dateOf(to).Sub(dateOf(from)).Hours() / 24)
}
