package calendar_tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/snowpost/icloudmcp/internal/caldav"
	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/server"
	"github.com/snowpost/icloudmcp/internal/tools/common"
)

// dateOnlyFormat is accepted for all-day event boundaries.
const dateOnlyFormat = "2006-01-02"

// RegisterEventTools registers event-related tools with the MCP server
func RegisterEventTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	// List events tool
	listEventsTool := mcp.NewTool("list_events",
		mcp.WithDescription("List upcoming calendar events"),
		mcp.WithString("calendar",
			mcp.Description("Calendar name (default: the first calendar)"),
		),
		mcp.WithNumber("days_ahead",
			mcp.Description("How many days ahead to look (default: 7)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events to return"),
		),
	)

	s.AddTool(listEventsTool, common.InstrumentedToolHandlerWithService(
		"list_events", instrumentation.ServiceCalDAV, instrumentation.OperationList, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListEvents(ctx, request, sc)
		}))

	// Search events tool
	searchEventsTool := mcp.NewTool("search_events",
		mcp.WithDescription("Search events by text in summary, location or description. Scans a window around today."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Case-insensitive text to search for"),
		),
		mcp.WithString("calendar",
			mcp.Description("Calendar name (default: the first calendar)"),
		),
		mcp.WithNumber("scan_days",
			mcp.Description("How many days before and after today to scan (default: 365)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of events to return (default: 200)"),
		),
	)

	s.AddTool(searchEventsTool, common.InstrumentedToolHandlerWithService(
		"search_events", instrumentation.ServiceCalDAV, instrumentation.OperationSearch, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSearchEvents(ctx, request, sc)
		}))

	// Create event tool
	createEventTool := mcp.NewTool("create_event",
		mcp.WithDescription("Create a new calendar event"),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Event title/summary"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start time (RFC3339, e.g. '2026-09-01T14:00:00Z'; all-day events accept '2026-09-01')"),
		),
		mcp.WithString("end",
			mcp.Description("End time. Defaults to one hour after start, or one day for all-day events."),
		),
		mcp.WithString("calendar",
			mcp.Description("Calendar name (default: the first calendar)"),
		),
		mcp.WithBoolean("all_day",
			mcp.Description("Create as an all-day event"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithNumber("reminder_minutes",
			mcp.Description("Add a display reminder this many minutes before the start"),
		),
	)

	s.AddTool(createEventTool, common.InstrumentedToolHandlerWithService(
		"create_event", instrumentation.ServiceCalDAV, instrumentation.OperationCreate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCreateEvent(ctx, request, sc)
		}))

	// Update event tool
	updateEventTool := mcp.NewTool("update_event",
		mcp.WithDescription("Update an existing calendar event. Only the provided fields change."),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the event to update"),
		),
		mcp.WithString("calendar",
			mcp.Description("Calendar holding the event (default: the first calendar)"),
		),
		mcp.WithString("summary",
			mcp.Description("New event title/summary"),
		),
		mcp.WithString("start",
			mcp.Description("New start time (RFC3339, or a date for all-day events)"),
		),
		mcp.WithString("end",
			mcp.Description("New end time"),
		),
		mcp.WithBoolean("all_day",
			mcp.Description("Switch the event between all-day and timed"),
		),
		mcp.WithString("location",
			mcp.Description("New event location"),
		),
		mcp.WithString("description",
			mcp.Description("New event description"),
		),
		mcp.WithNumber("reminder_minutes",
			mcp.Description("Replace reminders with one this many minutes before the start; 0 removes all reminders"),
		),
	)

	s.AddTool(updateEventTool, common.InstrumentedToolHandlerWithService(
		"update_event", instrumentation.ServiceCalDAV, instrumentation.OperationUpdate, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleUpdateEvent(ctx, request, sc)
		}))

	// Delete event tool
	deleteEventTool := mcp.NewTool("delete_event",
		mcp.WithDescription("Delete a calendar event"),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the event to delete"),
		),
		mcp.WithString("calendar",
			mcp.Description("Calendar holding the event (default: the first calendar)"),
		),
	)

	s.AddTool(deleteEventTool, common.InstrumentedToolHandlerWithService(
		"delete_event", instrumentation.ServiceCalDAV, instrumentation.OperationDelete, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDeleteEvent(ctx, request, sc)
		}))

	return nil
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	calendar := common.StringArg(args, "calendar", "")
	daysAhead := common.IntArg(args, "days_ahead", 0)
	limit := common.IntArg(args, "limit", 0)

	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := client.ListEvents(ctx, calendar, daysAhead, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}

	return mcp.NewToolResultText(formatEvents(events)), nil
}

func handleSearchEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	query, err := common.RequiredString(args, "query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	calendar := common.StringArg(args, "calendar", "")
	scanDays := common.IntArg(args, "scan_days", 0)
	limit := common.IntArg(args, "limit", 0)

	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, err := client.SearchEvents(ctx, calendar, query, scanDays, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search events: %v", err)), nil
	}

	return mcp.NewToolResultText(formatEvents(events)), nil
}

func handleCreateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	summary, err := common.RequiredString(args, "summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	allDay := common.BoolArg(args, "all_day", false)

	startStr, err := common.RequiredString(args, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := parseEventTime(startStr, allDay)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid start: %v", err)), nil
	}

	params := caldav.EventParams{
		Summary:         summary,
		Start:           start,
		AllDay:          allDay,
		Location:        common.StringArg(args, "location", ""),
		Description:     common.StringArg(args, "description", ""),
		ReminderMinutes: common.IntArg(args, "reminder_minutes", 0),
	}

	if endStr := common.StringArg(args, "end", ""); endStr != "" {
		end, err := parseEventTime(endStr, allDay)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid end: %v", err)), nil
		}
		params.End = end
	}

	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	event, err := client.CreateEvent(ctx, common.StringArg(args, "calendar", ""), params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create event: %v", err)), nil
	}

	result := fmt.Sprintf("Event created in %s:\n\n", event.Calendar)
	result += formatEvent(event)
	return mcp.NewToolResultText(result), nil
}

func handleUpdateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.RequiredString(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	upd, errResult := updateFromArgs(args)
	if errResult != nil {
		return errResult, nil
	}

	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	event, err := client.UpdateEvent(ctx, common.StringArg(args, "calendar", ""), uid, upd)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update event: %v", err)), nil
	}

	result := "Event updated:\n\n"
	result += formatEvent(event)
	return mcp.NewToolResultText(result), nil
}

func handleDeleteEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	uid, err := common.RequiredString(args, "uid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := getCalendarClient(sc)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := client.DeleteEvent(ctx, common.StringArg(args, "calendar", ""), uid); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete event: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Event %s deleted", uid)), nil
}

// updateFromArgs builds the partial update from the provided arguments.
// Absent arguments stay nil so the corresponding fields are untouched.
func updateFromArgs(args map[string]interface{}) (caldav.EventUpdate, *mcp.CallToolResult) {
	var upd caldav.EventUpdate

	if val, ok := args["summary"].(string); ok && val != "" {
		upd.Summary = &val
	}
	if val, ok := args["location"].(string); ok {
		upd.Location = &val
	}
	if val, ok := args["description"].(string); ok {
		upd.Description = &val
	}
	if val, ok := args["all_day"].(bool); ok {
		upd.AllDay = &val
	}

	allDay := upd.AllDay != nil && *upd.AllDay
	if val, ok := args["start"].(string); ok && val != "" {
		start, err := parseEventTime(val, allDay)
		if err != nil {
			return caldav.EventUpdate{}, mcp.NewToolResultError(fmt.Sprintf("Invalid start: %v", err))
		}
		upd.Start = &start
	}
	if val, ok := args["end"].(string); ok && val != "" {
		end, err := parseEventTime(val, allDay)
		if err != nil {
			return caldav.EventUpdate{}, mcp.NewToolResultError(fmt.Sprintf("Invalid end: %v", err))
		}
		upd.End = &end
	}

	if val, ok := args["reminder_minutes"].(float64); ok {
		minutes := int(val)
		if minutes < 0 {
			return caldav.EventUpdate{}, mcp.NewToolResultError("reminder_minutes cannot be negative")
		}
		upd.ReminderMinutes = &minutes
	}

	return upd, nil
}

// parseEventTime parses an event boundary. All-day events accept a
// bare date; timed events require RFC3339.
func parseEventTime(value string, allDay bool) (time.Time, error) {
	if allDay {
		if t, err := time.Parse(dateOnlyFormat, value); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil && allDay {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", value)
	}
	return t, err
}

func formatEvents(events []caldav.Event) string {
	if len(events) == 0 {
		return "No events found"
	}

	result := fmt.Sprintf("Found %d events:\n\n", len(events))
	for i, event := range events {
		result += fmt.Sprintf("%d. %s\n", i+1, event.Summary)
		result += fmt.Sprintf("   UID: %s\n", event.UID)
		result += "   " + eventTimeRange(event) + "\n"
		if event.Location != "" {
			result += fmt.Sprintf("   Location: %s\n", event.Location)
		}
		if event.Status != "" {
			result += fmt.Sprintf("   Status: %s\n", event.Status)
		}
		result += "\n"
	}
	return result
}

func formatEvent(event caldav.Event) string {
	result := fmt.Sprintf("Event: %s\n", event.Summary)
	result += fmt.Sprintf("UID: %s\n", event.UID)
	result += eventTimeRange(event) + "\n"
	if event.Location != "" {
		result += fmt.Sprintf("Location: %s\n", event.Location)
	}
	if event.Description != "" {
		result += fmt.Sprintf("Description: %s\n", event.Description)
	}
	if event.Status != "" {
		result += fmt.Sprintf("Status: %s\n", event.Status)
	}
	return result
}

func eventTimeRange(event caldav.Event) string {
	if event.AllDay {
		s := fmt.Sprintf("All day %s", event.Start.Format(dateOnlyFormat))
		// DTEND on an all-day event is exclusive
		if lastDay := event.End.AddDate(0, 0, -1); lastDay.After(event.Start) {
			s += fmt.Sprintf(" to %s", lastDay.Format(dateOnlyFormat))
		}
		return s
	}
	s := fmt.Sprintf("Start: %s", event.Start.Format(time.RFC3339))
	if !event.End.IsZero() {
		s += fmt.Sprintf(", End: %s", event.End.Format(time.RFC3339))
	}
	return s
}
