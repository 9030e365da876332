// Package calendar_tools provides MCP tools for iCloud calendars over
// CalDAV.
//
// Read tools discover calendars and query events; search scans the
// configured window in 90-day chunks because iCloud rejects very wide
// time-range queries. Write tools create, update and delete VEVENT
// resources, including display reminders.
package calendar_tools
