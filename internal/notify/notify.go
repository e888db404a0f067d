// Package notify derives notification state from the schedule store:
// the next upcoming item, the count, and human-relative time labels.
package notify

import (
	"fmt"
	"strconv"
	"time"

	"postsched/internal/model"
	"postsched/internal/store"
)

// displaySaturation is the badge display cap. The underlying count stays
// exact; only the rendered string saturates.
const displaySaturation = 99

// Presenter reads the store and computes display-ready views. It holds no
// state of its own.
type Presenter struct {
	store *store.Store
	loc   *time.Location
}

func NewPresenter(st *store.Store, loc *time.Location) *Presenter {
	if loc == nil {
		loc = time.Local
	}
	return &Presenter{store: st, loc: loc}
}

// Upcoming returns the soonest schedule, if any.
func (p *Presenter) Upcoming() (model.Schedule, bool) {
	return p.store.Upcoming()
}

// Count returns the exact number of schedules.
func (p *Presenter) Count() int {
	return p.store.Count()
}

// DisplayCount renders the badge count, saturating at "99+".
func (p *Presenter) DisplayCount() string {
	n := p.store.Count()
	if n > displaySaturation {
		return strconv.Itoa(displaySaturation) + "+"
	}
	return strconv.Itoa(n)
}

// RelativeLabel renders a schedule's start relative to now at calendar-day
// granularity:
//
//	same day        -> "today HH:MM"
//	next day        -> "tomorrow HH:MM"
//	2..7 days ahead -> "N days later HH:MM"
//	anything else   -> "YYYY-MM-DD HH:MM"
func (p *Presenter) RelativeLabel(s model.Schedule, now time.Time) string {
	diff := dayDiff(now.In(p.loc), s.Datetime.In(p.loc))

	switch {
	case diff == 0:
		return "today " + s.StartTime
	case diff == 1:
		return "tomorrow " + s.StartTime
	case diff > 1 && diff <= 7:
		return fmt.Sprintf("%d days later %s", diff, s.StartTime)
	default:
		return s.Date + " " + s.StartTime
	}
}

// dayDiff counts whole calendar days from a to b, both normalized to
// midnight. Rounding absorbs DST offsets.
func dayDiff(a, b time.Time) int {
	am := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, a.Location())
	bm := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, b.Location())
	return int(bm.Sub(am).Round(24*time.Hour) / (24 * time.Hour))
}
