package ics

import (
	"errors"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "availcal/internal/log"
	"availcal/internal/model"
)

const (
	propDtStart = "DTSTART"
	propDtEnd   = "DTEND"
)

// parserState is the state of the VEVENT scanner.
type parserState int

const (
	stateOutsideEvent parserState = iota
	stateInsideEvent
)

// rawProperty is a DTSTART or DTEND line captured inside one VEVENT.
type rawProperty struct {
	Value    string
	TZID     string
	DateOnly bool // VALUE=DATE parameter present
}

// accumulator collects the properties of the VEVENT being scanned.
// It is reset on every BEGIN:VEVENT and END:VEVENT.
type accumulator struct {
	start *rawProperty
	end   *rawProperty
	// depth counts nested components (VALARM, ...) whose properties
	// must not be mistaken for the event's own.
	depth int
}

// Parser turns ICS text into normalized calendar events. It keeps only
// DTSTART/DTEND and never fails: incomplete or unparsable VEVENTs are
// dropped and scanning continues.
type Parser struct {
	norm *Normalizer
}

// NewParser creates a Parser that resolves floating times and all-day
// dates in loc.
func NewParser(loc *time.Location) *Parser {
	return &Parser{norm: NewNormalizer(loc)}
}

// lineEndings folds bare CR and CRLF into LF, the only terminator the
// calendar stream splits on.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Parse extracts all well-formed VEVENTs from text.
func (p *Parser) Parse(text string) []model.CalendarEvent {
	m := machine{parser: p}
	stream := ical.NewCalendarStream(strings.NewReader(lineEndings.Replace(text)))
	for {
		line, err := stream.ReadLine()
		if line != nil {
			m.feed(readProperty(*line))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				appLog.Warn("ics: stopped reading feed", "err", err)
			}
			break
		}
	}
	appLog.Debug("ics parse completed", "event_count", len(m.events), "dropped", m.dropped)
	return m.events
}

// readProperty parses one unfolded content line. Lines without a colon, and
// lines the library rejects, yield nil.
func readProperty(line ical.ContentLine) (prop *ical.BaseProperty) {
	line = ical.ContentLine(strings.TrimSpace(string(line)))
	if !strings.Contains(string(line), ":") {
		return nil
	}
	// ParseProperty can index past the end of some malformed parameter lists.
	defer func() {
		if recover() != nil {
			prop = nil
		}
	}()
	prop, err := ical.ParseProperty(line)
	if err != nil {
		return nil
	}
	return prop
}

// machine is the two-state VEVENT scanner.
type machine struct {
	parser  *Parser
	state   parserState
	acc     accumulator
	events  []model.CalendarEvent
	dropped int
}

func (m *machine) feed(prop *ical.BaseProperty) {
	if prop == nil {
		return
	}
	name := strings.ToUpper(prop.IANAToken)
	value := strings.TrimSpace(prop.Value)

	switch {
	case name == "BEGIN" && strings.EqualFold(value, "VEVENT"):
		m.state = stateInsideEvent
		m.acc = accumulator{}
		return
	case name == "END" && strings.EqualFold(value, "VEVENT"):
		if m.state == stateInsideEvent {
			m.flush()
		}
		m.state = stateOutsideEvent
		m.acc = accumulator{}
		return
	}

	if m.state != stateInsideEvent {
		return
	}

	switch name {
	case "BEGIN":
		m.acc.depth++
		return
	case "END":
		if m.acc.depth > 0 {
			m.acc.depth--
		}
		return
	}
	if m.acc.depth > 0 {
		return
	}

	if name != propDtStart && name != propDtEnd {
		return
	}

	raw := &rawProperty{Value: value}
	for key, vals := range prop.ICalParameters {
		switch {
		case strings.EqualFold(key, string(ical.ParameterTzid)) && len(vals) > 0:
			raw.TZID = vals[0]
		case strings.EqualFold(key, string(ical.ParameterValue)):
			for _, v := range vals {
				if strings.EqualFold(v, "DATE") {
					raw.DateOnly = true
				}
			}
		}
	}

	if name == propDtStart {
		m.acc.start = raw
	} else {
		m.acc.end = raw
	}
}

// flush emits the accumulated event if it is complete and parsable.
func (m *machine) flush() {
	if m.acc.start == nil || m.acc.end == nil {
		m.dropped++
		return
	}
	ev, ok := m.parser.buildEvent(m.acc.start, m.acc.end)
	if !ok {
		appLog.Debug("ics: dropping VEVENT with unparsable date", "dtstart", m.acc.start.Value, "dtend", m.acc.end.Value)
		m.dropped++
		return
	}
	m.events = append(m.events, ev)
}

func (p *Parser) buildEvent(start, end *rawProperty) (model.CalendarEvent, bool) {
	// Exporters mark all-day events either with VALUE=DATE or by a bare
	// YYYYMMDD value, so accept both.
	if start.DateOnly || isBasicDate(strings.TrimSpace(start.Value)) {
		s, ok := p.norm.ParseDate(start.Value)
		if !ok {
			return model.CalendarEvent{}, false
		}
		e, ok := p.norm.ParseDate(end.Value)
		if !ok {
			return model.CalendarEvent{}, false
		}
		return model.CalendarEvent{Start: s, End: e, AllDay: true}, true
	}

	s, ok := p.norm.Normalize(start.Value, start.TZID)
	if !ok {
		return model.CalendarEvent{}, false
	}
	e, ok := p.norm.Normalize(end.Value, end.TZID)
	if !ok {
		return model.CalendarEvent{}, false
	}
	return model.CalendarEvent{Start: s, End: e}, true
}
