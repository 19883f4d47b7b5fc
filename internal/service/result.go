package service

import "availcal/internal/model"

// MonthView is the view identifier that selects day-level availability.
// Any other view gets busy blocks.
const MonthView = "dayGridMonth"

// Result is either BusyBlocks or DayAvailability.
type Result interface {
	isResult()
}

// BusyBlocks is the week/day view response.
type BusyBlocks []model.BusyBlock

// DayAvailability is the month view response.
type DayAvailability []model.DayAvailability

func (BusyBlocks) isResult()      {}
func (DayAvailability) isResult() {}

type mode int

const (
	modeBusy mode = iota
	modeMonth
)

func modeFor(view string) mode {
	if view == "" || view == MonthView {
		return modeMonth
	}
	return modeBusy
}

func (m mode) String() string {
	if m == modeMonth {
		return "month"
	}
	return "busy"
}
