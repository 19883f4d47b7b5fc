package model

import "time"

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// InstantLayout is the wire format for timed instants. UTC renders as "Z".
	InstantLayout = time.RFC3339
)

// CalendarEvent is a VEVENT after parsing and normalization.
//
// For timed events Start/End carry the zone they were resolved in (UTC for
// "Z" values, the TZID zone otherwise). For all-day events they are midnight
// of the literal calendar date in the business timezone, and only the date
// part is meaningful. End is exclusive.
type CalendarEvent struct {
	Start  time.Time
	End    time.Time
	AllDay bool
}

// StartString renders Start for transport: YYYY-MM-DD for all-day events,
// ISO-8601 with offset otherwise.
func (e CalendarEvent) StartString() string {
	return formatEventTime(e.Start, e.AllDay)
}

// EndString renders End the same way as StartString.
func (e CalendarEvent) EndString() string {
	return formatEventTime(e.End, e.AllDay)
}

func formatEventTime(t time.Time, allDay bool) string {
	if allDay {
		return t.Format(DateLayout)
	}
	return t.Format(InstantLayout)
}

// Window is a [Start, End) pair of calendar dates as requested by the caller.
type Window struct {
	Start string
	End   string
}

// BusyBlock is the public-facing shape of a CalendarEvent.
type BusyBlock struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	AllDay bool   `json:"allDay,omitempty"`
}

// DayAvailability reports whether a single calendar day still has a
// sufficiently long free gap inside opening hours.
type DayAvailability struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}
