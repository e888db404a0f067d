package calendar

import (
	"sort"
	"strings"
	"time"

	"postsched/internal/model"
)

const (
	// autoPostType is the explicit type tag used by entries created with
	// the structured scheme.
	autoPostType = "auto-post"

	// structuredMarker is the tag older structured entries embed in their
	// description body.
	structuredMarker = "[type: auto-post]"

	// platformMarker / competingMarker drive the legacy fallback heuristic:
	// a description mentioning the X platform but not YouTube is treated as
	// an auto-post entry. The bare single-letter match is known to be loose
	// (it matches any text containing an "x"); it is kept deliberately
	// inclusive so legacy entries are never silently dropped.
	platformMarker  = "x"
	competingMarker = "youtube"
)

// IsAutoPost classifies a raw calendar event as an in-scope auto-post
// schedule. Precedence: explicit type field, structured description marker,
// then the legacy platform-marker heuristic. Pure function; classifying the
// same event twice always yields the same answer.
func IsAutoPost(ev model.CalendarEvent) bool {
	if ev.Type == autoPostType {
		return true
	}

	desc := strings.ToLower(ev.Description)
	if strings.Contains(desc, structuredMarker) {
		return true
	}

	// Legacy compatibility fallback: the competing marker suppresses the
	// bare platform marker.
	return strings.Contains(desc, platformMarker) && !strings.Contains(desc, competingMarker)
}

// Normalize converts a raw event into a Schedule in the given display
// timezone. Date, StartTime and EndTime are local renderings of the event's
// instants; Datetime is derived from Date+StartTime once, here, and never
// recomputed.
func Normalize(ev model.CalendarEvent, loc *time.Location) model.Schedule {
	start := ev.Start.In(loc)
	end := ev.End.In(loc)

	return model.Schedule{
		ID:            ev.ID,
		Title:         ev.Summary,
		Date:          start.Format("2006-01-02"),
		StartTime:     start.Format("15:04"),
		EndTime:       end.Format("15:04"),
		Description:   ev.Description,
		SourceEventID: ev.ID,
		Datetime:      time.Date(start.Year(), start.Month(), start.Day(), start.Hour(), start.Minute(), 0, 0, loc),
	}
}

// BuildSchedules runs one cycle's classification pipeline: filter raw
// events to in-scope auto-posts, normalize them, drop anything strictly
// before the cycle's now snapshot, and sort ascending by Datetime with ties
// broken by source event id.
//
// now is captured once at the start of the fetch cycle and not re-evaluated
// per item, so the result set stays internally consistent even when the
// fetch itself was slow.
func BuildSchedules(events []model.CalendarEvent, now time.Time, loc *time.Location) []model.Schedule {
	schedules := make([]model.Schedule, 0, len(events))
	for _, ev := range events {
		if !IsAutoPost(ev) {
			continue
		}
		s := Normalize(ev, loc)
		if s.Datetime.Before(now) {
			continue
		}
		schedules = append(schedules, s)
	}

	sort.SliceStable(schedules, func(i, j int) bool {
		if !schedules[i].Datetime.Equal(schedules[j].Datetime) {
			return schedules[i].Datetime.Before(schedules[j].Datetime)
		}
		return schedules[i].SourceEventID < schedules[j].SourceEventID
	})

	return schedules
}
