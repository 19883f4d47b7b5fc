package ics

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availcal/internal/model"
)

type wireEvent struct {
	Start  string
	End    string
	AllDay bool
}

func toWire(events []model.CalendarEvent) []wireEvent {
	out := make([]wireEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, wireEvent{Start: ev.StartString(), End: ev.EndString(), AllDay: ev.AllDay})
	}
	return out
}

func tzidParam(zone string) ical.PropertyParameter {
	return &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{zone}}
}

func TestParseLibraryGeneratedCalendar(t *testing.T) {
	stamp := time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	cal := ical.NewCalendar()
	cal.SetProductId("-//availcal//test//EN")

	utc := cal.AddEvent("utc@test")
	utc.SetDtStampTime(stamp)
	utc.SetStartAt(time.Date(2025, 11, 15, 9, 0, 0, 0, time.UTC))
	utc.SetEndAt(time.Date(2025, 11, 15, 11, 0, 0, 0, time.UTC))
	utc.SetSummary("Dentist")

	allDay := cal.AddEvent("allday@test")
	allDay.SetDtStampTime(stamp)
	allDay.SetAllDayStartAt(time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC))
	allDay.SetAllDayEndAt(time.Date(2025, 11, 18, 0, 0, 0, 0, time.UTC))

	zoned := cal.AddEvent("zoned@test")
	zoned.SetDtStampTime(stamp)
	zoned.SetProperty(ical.ComponentPropertyDtStart, "20251115T100000", tzidParam("Europe/Prague"))
	zoned.SetProperty(ical.ComponentPropertyDtEnd, "20251115T113000", tzidParam("Europe/Prague"))

	events := NewParser(time.UTC).Parse(cal.Serialize())

	want := []wireEvent{
		{Start: "2025-11-15T09:00:00Z", End: "2025-11-15T11:00:00Z"},
		{Start: "2025-11-17", End: "2025-11-18", AllDay: true},
		{Start: "2025-11-15T10:00:00+01:00", End: "2025-11-15T11:30:00+01:00"},
	}
	if diff := cmp.Diff(want, toWire(events)); diff != "" {
		t.Errorf("parsed events mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAllDayIgnoresZone(t *testing.T) {
	const feed = "BEGIN:VCALENDAR\n" +
		"BEGIN:VEVENT\n" +
		"DTSTART:20251117\n" +
		"DTEND:20251118\n" +
		"END:VEVENT\n" +
		"END:VCALENDAR\n"

	for _, zone := range []string{"UTC", "Pacific/Kiritimati", "America/Los_Angeles"} {
		t.Run(zone, func(t *testing.T) {
			events := NewParser(mustLoad(t, zone)).Parse(feed)
			require.Len(t, events, 1)
			assert.Equal(t, wireEvent{Start: "2025-11-17", End: "2025-11-18", AllDay: true}, toWire(events)[0])
		})
	}
}

func TestParseValueDateWithTZID(t *testing.T) {
	const feed = "BEGIN:VEVENT\r\n" +
		"DTSTART;TZID=Europe/Prague;VALUE=DATE:20251117\r\n" +
		"DTEND;VALUE=DATE;TZID=Europe/Prague:20251119\r\n" +
		"END:VEVENT\r\n"

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
	assert.Equal(t, wireEvent{Start: "2025-11-17", End: "2025-11-19", AllDay: true}, toWire(events)[0])
}

func TestParseSkipsMalformedEvents(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"DTSTART:20251110T090000Z",
		"DTEND:20251110T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"SUMMARY:missing end",
		"DTSTART:20251111T090000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART:not-a-date",
		"DTEND:20251112T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"this line has no colon",
		"DTSTART:20251113T090000Z",
		"DTEND:20251113T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r")

	events := NewParser(time.UTC).Parse(feed)

	want := []wireEvent{
		{Start: "2025-11-10T09:00:00Z", End: "2025-11-10T10:00:00Z"},
		{Start: "2025-11-13T09:00:00Z", End: "2025-11-13T10:00:00Z"},
	}
	if diff := cmp.Diff(want, toWire(events)); diff != "" {
		t.Errorf("parsed events mismatch (-want +got):\n%s", diff)
	}
}

func TestParseIgnoresPropertiesOutsideEvents(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Prague",
		"BEGIN:STANDARD",
		"DTSTART:19701025T030000",
		"END:STANDARD",
		"END:VTIMEZONE",
		"DTSTART:20251101T090000Z",
		"DTEND:20251101T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\n")

	assert.Empty(t, NewParser(time.UTC).Parse(feed))
}

func TestParseIgnoresNestedComponents(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VEVENT",
		"DTSTART:20251115T090000Z",
		"BEGIN:VALARM",
		"DTSTART:20250101T000000Z",
		"DTEND:20250101T000000Z",
		"END:VALARM",
		"DTEND:20251115T100000Z",
		"END:VEVENT",
	}, "\n")

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
	assert.Equal(t, "2025-11-15T09:00:00Z", events[0].StartString())
}

func TestParseResetsOnBeginVEvent(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VEVENT",
		"DTSTART:20251101T090000Z",
		"BEGIN:VEVENT",
		"DTEND:20251101T100000Z",
		"END:VEVENT",
	}, "\n")

	assert.Empty(t, NewParser(time.UTC).Parse(feed))
}

func TestParseUnfoldsContinuationLines(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VEVENT",
		"DTSTART;TZID=Europe/Pr",
		" ague:20251115T100000",
		"DTEND;TZID=Europe/Prague:20251115T1",
		"\t10000",
		"END:VEVENT",
	}, "\r\n")

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
	assert.Equal(t, "2025-11-15T10:00:00+01:00", events[0].StartString())
	assert.Equal(t, "2025-11-15T11:00:00+01:00", events[0].EndString())
}

func TestParseLowercasePropertyNames(t *testing.T) {
	feed := "BEGIN:VEVENT\ndtstart:20251115T090000Z\ndtend:20251115T100000Z\nEND:VEVENT\n"

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
}

func TestParseDateTimeValueIsNotDateOnly(t *testing.T) {
	feed := "BEGIN:VEVENT\nDTSTART;VALUE=DATE-TIME:20251115T090000Z\nDTEND:20251115T100000Z\nEND:VEVENT\n"

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
	assert.False(t, events[0].AllDay)
}

func TestParseEmptyInput(t *testing.T) {
	assert.Empty(t, NewParser(time.UTC).Parse(""))
}

func TestParseQuotedTZID(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VEVENT",
		`DTSTART;TZID="Europe/Prague":20251115T100000`,
		`DTEND;tzid="Europe/Prague":20251115T113000`,
		"END:VEVENT",
	}, "\r\n")

	events := NewParser(time.UTC).Parse(feed)
	require.Len(t, events, 1)
	assert.Equal(t, wireEvent{Start: "2025-11-15T10:00:00+01:00", End: "2025-11-15T11:30:00+01:00"}, toWire(events)[0])
}

func TestParseMalformedParametersDropEvent(t *testing.T) {
	feed := strings.Join([]string{
		"BEGIN:VEVENT",
		`DTSTART;X-NOTE="a:b"`,
		"DTEND:20251115T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART;TZID=Europe/Prague",
		"DTEND:20251116T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTART:20251117T090000Z",
		"DTEND:20251117T100000Z",
		"END:VEVENT",
	}, "\n")

	var events []model.CalendarEvent
	require.NotPanics(t, func() { events = NewParser(time.UTC).Parse(feed) })
	require.Len(t, events, 1)
	assert.Equal(t, "2025-11-17T09:00:00Z", events[0].StartString())
}

func TestParseFinalLineWithoutTerminator(t *testing.T) {
	feed := "BEGIN:VEVENT\r\nDTSTART:20251115T090000Z\r\nDTEND:20251115T100000Z\r\nEND:VEVENT"

	assert.Len(t, NewParser(time.UTC).Parse(feed), 1)
}
