// Package availability derives the two response shapes of the API from a
// window-filtered event list: busy blocks for week/day views and per-day
// availability for the month view.
package availability

import (
	"sort"
	"time"

	"availcal/internal/model"
)

// DefaultMinFreeGap is the free time a day needs inside opening hours to
// count as available.
const DefaultMinFreeGap = 120 * time.Minute

// BusyBlocks passes every event through as a BusyBlock. All-day events keep
// their plain dates and the AllDay flag; how to draw them is up to the
// client.
func BusyBlocks(events []model.CalendarEvent) []model.BusyBlock {
	out := make([]model.BusyBlock, 0, len(events))
	for _, ev := range events {
		out = append(out, model.BusyBlock{
			Start:  ev.StartString(),
			End:    ev.EndString(),
			AllDay: ev.AllDay,
		})
	}
	return out
}

// Options configures an Engine.
type Options struct {
	// Location is the business timezone used for day boundaries and
	// opening hours. Nil means UTC.
	Location *time.Location
	// OpeningStart and OpeningEnd are offsets from local midnight.
	OpeningStart time.Duration
	OpeningEnd   time.Duration
	// MinFreeGap defaults to DefaultMinFreeGap.
	MinFreeGap time.Duration
}

// Engine computes day-level availability.
type Engine struct {
	loc          *time.Location
	openingStart time.Duration
	openingEnd   time.Duration
	minGap       time.Duration
}

func New(opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MinFreeGap <= 0 {
		opts.MinFreeGap = DefaultMinFreeGap
	}
	return &Engine{
		loc:          opts.Location,
		openingStart: opts.OpeningStart,
		openingEnd:   opts.OpeningEnd,
		minGap:       opts.MinFreeGap,
	}
}

// Days returns one DayAvailability per calendar day in [from, to). Only the
// dates of from and to matter.
//
// Events are bucketed by the business-zone date of their start. An event
// that runs past midnight therefore only affects the day it starts on.
func (e *Engine) Days(events []model.CalendarEvent, from, to time.Time) []model.DayAvailability {
	byDay := make(map[string][]model.CalendarEvent)
	for _, ev := range events {
		key := ev.Start.In(e.loc).Format(model.DateLayout)
		byDay[key] = append(byDay[key], ev)
	}

	y, m, d := from.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, e.loc)
	y, m, d = to.Date()
	last := time.Date(y, m, d, 0, 0, 0, 0, e.loc)

	out := make([]model.DayAvailability, 0)
	for cur.Before(last) {
		key := cur.Format(model.DateLayout)
		dayStart, dayEnd := e.openingHours(cur)
		out = append(out, model.DayAvailability{
			Date:      key,
			Available: e.hasFreeGap(dayStart, dayEnd, byDay[key]),
		})
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}

// openingHours returns the opening and closing instants on day's date.
// Wall-clock times are used so DST change days keep the configured hours.
func (e *Engine) openingHours(day time.Time) (time.Time, time.Time) {
	return atClock(day, e.openingStart, e.loc), atClock(day, e.openingEnd, e.loc)
}

func atClock(day time.Time, offset time.Duration, loc *time.Location) time.Time {
	y, m, d := day.Date()
	h := int(offset / time.Hour)
	mins := int((offset % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, mins, 0, 0, loc)
}

// hasFreeGap reports whether one of the day's gaps is at least minGap long:
// opening to the first start, each end to the next start in start order,
// and the last end to closing. Events with End <= Start are ignored.
func (e *Engine) hasFreeGap(dayStart, dayEnd time.Time, events []model.CalendarEvent) bool {
	valid := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.End.After(ev.Start) {
			valid = append(valid, ev)
		}
	}
	if len(valid) == 0 {
		return true
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Start.Before(valid[j].Start)
	})

	first := valid[0]
	if first.Start.After(dayStart) && first.Start.Sub(dayStart) >= e.minGap {
		return true
	}
	for i := 0; i+1 < len(valid); i++ {
		if valid[i+1].Start.Sub(valid[i].End) >= e.minGap {
			return true
		}
	}
	last := valid[len(valid)-1]
	return last.End.Before(dayEnd) && dayEnd.Sub(last.End) >= e.minGap
}
