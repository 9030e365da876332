package caldav

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const (
	productID = "-//snowpost//icloudmcp//EN"

	dateFormat = "20060102"
)

// Event is the tool-level view of a calendar event.
type Event struct {
	UID         string    `json:"uid"`
	Calendar    string    `json:"calendar"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end,omitempty"`
	AllDay      bool      `json:"all_day"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// EventParams describes a new event. Zero End on a timed event defaults
// to one hour after Start; an all-day event defaults to a single day.
type EventParams struct {
	Summary     string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Location    string
	Description string

	// ReminderMinutes adds a display alarm that many minutes before the
	// event start. Zero means no alarm.
	ReminderMinutes int
}

// EventUpdate carries a partial update. Nil fields are left untouched.
type EventUpdate struct {
	Summary     *string
	Start       *time.Time
	End         *time.Time
	AllDay      *bool
	Location    *string
	Description *string

	// ReminderMinutes replaces the event's alarms. Zero removes them,
	// nil keeps them.
	ReminderMinutes *int
}

// newEventCalendar builds a standalone VCALENDAR holding one VEVENT.
// It returns the calendar and the generated event UID.
func newEventCalendar(params EventParams, now time.Time) (*ical.Calendar, string) {
	uid := uuid.NewString()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	event.Props.SetText(ical.PropSummary, params.Summary)

	start, end := normalizeEventTimes(params.Start, params.End, params.AllDay)
	setEventTime(event.Props, ical.PropDateTimeStart, start, params.AllDay)
	setEventTime(event.Props, ical.PropDateTimeEnd, end, params.AllDay)

	if params.Location != "" {
		event.Props.SetText(ical.PropLocation, params.Location)
	}
	if params.Description != "" {
		event.Props.SetText(ical.PropDescription, params.Description)
	}
	if params.ReminderMinutes > 0 {
		event.Children = append(event.Children, newDisplayAlarm(params.ReminderMinutes, params.Summary))
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Children = append(cal.Children, event.Component)
	return cal, uid
}

// normalizeEventTimes fills in a missing end time.
func normalizeEventTimes(start, end time.Time, allDay bool) (time.Time, time.Time) {
	if !end.IsZero() {
		return start, end
	}
	if allDay {
		return start, start.AddDate(0, 0, 1)
	}
	return start, start.Add(time.Hour)
}

// setEventTime writes a DTSTART/DTEND property, as a DATE value for
// all-day events and a UTC DATE-TIME otherwise.
func setEventTime(props ical.Props, name string, t time.Time, allDay bool) {
	if allDay {
		p := ical.NewProp(name)
		p.SetValueType(ical.ValueDate)
		p.Value = t.Format(dateFormat)
		props.Set(p)
		return
	}
	props.SetDateTime(name, t.UTC())
}

// newDisplayAlarm builds a VALARM firing minutes before the event.
func newDisplayAlarm(minutes int, description string) *ical.Component {
	alarm := &ical.Component{Name: ical.CompAlarm, Props: make(ical.Props)}
	alarm.Props.SetText(ical.PropAction, "DISPLAY")
	if description == "" {
		description = "Reminder"
	}
	alarm.Props.SetText(ical.PropDescription, description)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = reminderTrigger(minutes)
	alarm.Props.Set(trigger)
	return alarm
}

// reminderTrigger renders a negative ISO 8601 duration trigger.
func reminderTrigger(minutes int) string {
	return fmt.Sprintf("-PT%dM", minutes)
}

// applyEventUpdate mutates a VEVENT component in place and bumps
// DTSTAMP and SEQUENCE so clients pick the change up.
func applyEventUpdate(event *ical.Component, upd EventUpdate, now time.Time) {
	allDay := eventIsAllDay(event)
	if upd.AllDay != nil {
		allDay = *upd.AllDay
	}

	if upd.Summary != nil {
		event.Props.SetText(ical.PropSummary, *upd.Summary)
	}
	if upd.Location != nil {
		event.Props.SetText(ical.PropLocation, *upd.Location)
	}
	if upd.Description != nil {
		event.Props.SetText(ical.PropDescription, *upd.Description)
	}
	if upd.Start != nil {
		setEventTime(event.Props, ical.PropDateTimeStart, *upd.Start, allDay)
	}
	if upd.End != nil {
		setEventTime(event.Props, ical.PropDateTimeEnd, *upd.End, allDay)
	}
	if upd.ReminderMinutes != nil {
		children := event.Children[:0]
		for _, child := range event.Children {
			if child.Name != ical.CompAlarm {
				children = append(children, child)
			}
		}
		event.Children = children
		if *upd.ReminderMinutes > 0 {
			summary := propText(event, ical.PropSummary)
			event.Children = append(event.Children, newDisplayAlarm(*upd.ReminderMinutes, summary))
		}
	}

	event.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	seq := ical.NewProp(ical.PropSequence)
	seq.Value = strconv.Itoa(eventSequence(event) + 1)
	event.Props.Set(seq)
}

// eventSequence reads the current SEQUENCE, defaulting to zero.
func eventSequence(event *ical.Component) int {
	prop := event.Props.Get(ical.PropSequence)
	if prop == nil {
		return 0
	}
	n, err := strconv.Atoi(prop.Value)
	if err != nil {
		return 0
	}
	return n
}

// eventIsAllDay reports whether DTSTART carries a DATE value.
func eventIsAllDay(event *ical.Component) bool {
	prop := event.Props.Get(ical.PropDateTimeStart)
	return prop != nil && prop.ValueType() == ical.ValueDate
}

// eventFromComponent converts a parsed VEVENT into the tool-level view.
func eventFromComponent(event *ical.Component, calendarName string) Event {
	e := Event{
		UID:         propText(event, ical.PropUID),
		Calendar:    calendarName,
		Summary:     propText(event, ical.PropSummary),
		Location:    propText(event, ical.PropLocation),
		Description: propText(event, ical.PropDescription),
		Status:      propText(event, ical.PropStatus),
		AllDay:      eventIsAllDay(event),
	}
	wrapped := ical.Event{Component: event}
	if start, err := wrapped.DateTimeStart(time.UTC); err == nil {
		e.Start = start
	}
	if end, err := wrapped.DateTimeEnd(time.UTC); err == nil {
		e.End = end
	}
	return e
}

func propText(c *ical.Component, name string) string {
	prop := c.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

// matchesQuery reports whether an event matches a case-insensitive
// free-text query over summary, location and description.
func matchesQuery(e Event, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.Summary), q) ||
		strings.Contains(strings.ToLower(e.Location), q) ||
		strings.Contains(strings.ToLower(e.Description), q)
}

// chunkRanges splits [start, end) into consecutive windows of at most
// chunkDays days.
func chunkRanges(start, end time.Time, chunkDays int) [][2]time.Time {
	if chunkDays <= 0 || !start.Before(end) {
		return nil
	}
	var ranges [][2]time.Time
	for cur := start; cur.Before(end); {
		next := cur.AddDate(0, 0, chunkDays)
		if next.After(end) {
			next = end
		}
		ranges = append(ranges, [2]time.Time{cur, next})
		cur = next
	}
	return ranges
}
