package ics

import (
	"time"

	"availcal/internal/model"
)

// FilterWindow keeps the events that overlap [from, to]. Both bounds are
// inclusive: an event ending exactly at from, or starting exactly at to,
// is kept.
func FilterWindow(events []model.CalendarEvent, from, to time.Time) []model.CalendarEvent {
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if !timeRangesOverlap(ev.Start, ev.End, from, to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
