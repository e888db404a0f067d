package model

import "time"

// CalendarEvent is the raw event shape returned by the external events
// endpoint. It is owned by the calendar provider and read-only here; the
// Type field is only populated for entries created with the structured
// scheme, older entries carry their tag inside Description instead.
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Type        string    `json:"type,omitempty"`
}

// Schedule is a normalized auto-post schedule derived from a CalendarEvent.
// Instances are immutable after creation: Datetime is computed once from
// Date and StartTime in the display timezone and never recomputed.
type Schedule struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Date          string `json:"date"`       // calendar day, local (YYYY-MM-DD)
	StartTime     string `json:"start_time"` // local HH:MM
	EndTime       string `json:"end_time"`   // local HH:MM
	Description   string `json:"description"`
	SourceEventID string `json:"source_event_id"`

	// Datetime is the sort/filter key: Date+StartTime as a local instant.
	// EndTime plays no role in filtering or sorting.
	Datetime time.Time `json:"datetime"`
}
