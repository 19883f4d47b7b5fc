package ics

import (
	"strings"
	"sync"
	"time"

	appLog "availcal/internal/log"
)

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
)

// Normalizer turns iCal DATE / DATE-TIME values into time.Time.
//
// Supported forms:
//
//	20251115            date only, midnight UTC
//	20251115T100000Z    UTC
//	20251115T100000     floating; TZID zone if given, else the business zone
//
// Resolved zones are cached; an unknown TZID is logged once per Normalizer
// and then treated as UTC.
type Normalizer struct {
	// local is used for floating values without TZID and for all-day dates.
	local *time.Location

	mu    sync.Mutex
	zones map[string]*time.Location
}

// NewNormalizer creates a Normalizer. A nil loc means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		local: loc,
		zones: make(map[string]*time.Location),
	}
}

// Normalize resolves raw into an absolute instant. ok is false when raw does
// not match any of the fixed-width forms.
func (n *Normalizer) Normalize(raw, tzid string) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)

	if isBasicDate(raw) {
		t, err := time.ParseInLocation(layoutDate, raw, time.UTC)
		return t, err == nil
	}

	if strings.HasSuffix(raw, "Z") {
		v := strings.TrimSuffix(raw, "Z")
		if !isBasicDateTime(v) {
			return time.Time{}, false
		}
		t, err := time.ParseInLocation(layoutDateTime, v, time.UTC)
		return t, err == nil
	}

	if !isBasicDateTime(raw) {
		return time.Time{}, false
	}

	loc := n.local
	if tzid != "" {
		loc = n.zone(tzid)
	}
	t, err := time.ParseInLocation(layoutDateTime, raw, loc)
	return t, err == nil
}

// ParseDate reads the calendar date of a DATE value (or the date part of a
// DATE-TIME value) and anchors it at midnight in the business zone. No zone
// conversion is applied, so "20251117" always stays November 17.
func (n *Normalizer) ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case isBasicDate(raw):
	case isBasicDateTime(strings.TrimSuffix(raw, "Z")):
		raw = raw[:8]
	default:
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(layoutDate, raw, n.local)
	return t, err == nil
}

func (n *Normalizer) zone(tzid string) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)

	n.mu.Lock()
	defer n.mu.Unlock()

	if loc, ok := n.zones[tzid]; ok {
		return loc
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil || tzid == "" {
		appLog.Warn("ics: unknown TZID, treating value as UTC", "tzid", tzid)
		loc = time.UTC
	}
	n.zones[tzid] = loc
	return loc
}

// isBasicDate reports whether s is exactly YYYYMMDD.
func isBasicDate(s string) bool {
	return len(s) == 8 && allDigits(s)
}

// isBasicDateTime reports whether s is exactly YYYYMMDDTHHMMSS.
func isBasicDateTime(s string) bool {
	return len(s) == 15 && s[8] == 'T' && allDigits(s[:8]) && allDigits(s[9:])
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
