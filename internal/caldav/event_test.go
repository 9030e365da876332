package caldav

import (
	"bytes"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventCalendar(t *testing.T) {
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	cal, uid := newEventCalendar(EventParams{
		Summary:         "standup",
		Start:           start,
		Location:        "room 4",
		Description:     "weekly sync",
		ReminderMinutes: 15,
	}, time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC))

	require.NotEmpty(t, uid)
	require.Len(t, cal.Children, 1)
	event := cal.Children[0]
	assert.Equal(t, ical.CompEvent, event.Name)
	assert.Equal(t, uid, propText(event, ical.PropUID))
	assert.Equal(t, "standup", propText(event, ical.PropSummary))
	assert.Equal(t, "room 4", propText(event, ical.PropLocation))

	view := eventFromComponent(event, "Work")
	assert.Equal(t, start, view.Start)
	// End defaults to one hour after start for timed events.
	assert.Equal(t, start.Add(time.Hour), view.End)
	assert.False(t, view.AllDay)

	require.Len(t, event.Children, 1)
	alarm := event.Children[0]
	assert.Equal(t, ical.CompAlarm, alarm.Name)
	assert.Equal(t, "DISPLAY", propText(alarm, ical.PropAction))
	assert.Equal(t, "-PT15M", alarm.Props.Get(ical.PropTrigger).Value)

	// The calendar must survive an encode round trip.
	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(cal))
	decoded, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Equal(t, uid, propText(decoded.Children[0], ical.PropUID))
}

func TestNewEventCalendarAllDay(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cal, _ := newEventCalendar(EventParams{
		Summary: "company holiday",
		Start:   start,
		AllDay:  true,
	}, time.Now())

	event := cal.Children[0]
	assert.True(t, eventIsAllDay(event))
	assert.Equal(t, "20260901", event.Props.Get(ical.PropDateTimeStart).Value)
	// All-day end defaults to the next day.
	assert.Equal(t, "20260902", event.Props.Get(ical.PropDateTimeEnd).Value)
	assert.Empty(t, event.Children)
}

func TestApplyEventUpdate(t *testing.T) {
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	cal, _ := newEventCalendar(EventParams{
		Summary:         "standup",
		Start:           start,
		ReminderMinutes: 15,
	}, time.Now())
	event := cal.Children[0]

	newSummary := "standup (moved)"
	newStart := start.Add(2 * time.Hour)
	noReminder := 0
	applyEventUpdate(event, EventUpdate{
		Summary:         &newSummary,
		Start:           &newStart,
		ReminderMinutes: &noReminder,
	}, time.Now())

	assert.Equal(t, "standup (moved)", propText(event, ical.PropSummary))
	assert.Equal(t, "1", event.Props.Get(ical.PropSequence).Value)
	assert.Empty(t, event.Children)

	view := eventFromComponent(event, "Work")
	assert.Equal(t, newStart, view.Start)

	// A second update bumps the sequence again and can add a reminder back.
	tenMinutes := 10
	applyEventUpdate(event, EventUpdate{ReminderMinutes: &tenMinutes}, time.Now())
	assert.Equal(t, "2", event.Props.Get(ical.PropSequence).Value)
	require.Len(t, event.Children, 1)
	assert.Equal(t, "-PT10M", event.Children[0].Props.Get(ical.PropTrigger).Value)
}

func TestChunkRanges(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ranges := chunkRanges(start, start.AddDate(0, 0, 200), 90)
	require.Len(t, ranges, 3)
	assert.Equal(t, start, ranges[0][0])
	assert.Equal(t, start.AddDate(0, 0, 90), ranges[0][1])
	assert.Equal(t, start.AddDate(0, 0, 90), ranges[1][0])
	assert.Equal(t, start.AddDate(0, 0, 180), ranges[1][1])
	assert.Equal(t, start.AddDate(0, 0, 200), ranges[2][1])

	assert.Nil(t, chunkRanges(start, start, 90))
	assert.Nil(t, chunkRanges(start, start.AddDate(0, 0, 10), 0))

	single := chunkRanges(start, start.AddDate(0, 0, 30), 90)
	require.Len(t, single, 1)
	assert.Equal(t, start.AddDate(0, 0, 30), single[0][1])
}

func TestMatchesQuery(t *testing.T) {
	e := Event{Summary: "Dentist Appointment", Location: "Main St", Description: "bring insurance card"}

	assert.True(t, matchesQuery(e, "dentist"))
	assert.True(t, matchesQuery(e, "MAIN st"))
	assert.True(t, matchesQuery(e, "insurance"))
	assert.False(t, matchesQuery(e, "barber"))
}

func TestReminderTrigger(t *testing.T) {
	assert.Equal(t, "-PT15M", reminderTrigger(15))
	assert.Equal(t, "-PT90M", reminderTrigger(90))
}

func TestSupportsEvents(t *testing.T) {
	assert.True(t, supportsEvents(caldav.Calendar{}))
	assert.True(t, supportsEvents(caldav.Calendar{SupportedComponentSet: []string{"VEVENT", "VTODO"}}))
	assert.False(t, supportsEvents(caldav.Calendar{SupportedComponentSet: []string{"VTODO"}}))
}

func TestEventsFromObjectsSorted(t *testing.T) {
	mk := func(uid string, start time.Time) caldav.CalendarObject {
		cal, _ := newEventCalendar(EventParams{Summary: uid, Start: start}, time.Now())
		cal.Children[0].Props.SetText(ical.PropUID, uid)
		return caldav.CalendarObject{Data: cal}
	}
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	objs := []caldav.CalendarObject{
		mk("b", base.Add(2*time.Hour)),
		mk("a", base),
		mk("c", base.Add(4*time.Hour)),
	}

	events := eventsFromObjects(objs, "Home")
	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].UID)
	assert.Equal(t, "b", events[1].UID)
	assert.Equal(t, "c", events[2].UID)
	assert.Equal(t, "Home", events[0].Calendar)
}

func TestConfigDefaultsAndValidate(t *testing.T) {
	cfg := Config{Username: "a@icloud.com", Password: "secret"}
	cfg.applyDefaults()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultScanDays, cfg.ScanDays)
	assert.Equal(t, DefaultChunkDays, cfg.ChunkDays)
	assert.Equal(t, DefaultMaxResults, cfg.MaxResults)
	require.NoError(t, cfg.Validate())

	require.Error(t, (&Config{Password: "x"}).Validate())
	require.Error(t, (&Config{Username: "x"}).Validate())
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
