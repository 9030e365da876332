// Package caldav implements the iCloud calendar backend for icloudmcp.
//
// Calendars are discovered through the CalDAV well-known chain
// (current-user-principal, calendar-home-set) against
// caldav.icloud.com with Basic auth. Events are read and written as
// iCalendar objects.
//
// iCloud rejects time-range queries spanning much more than a quarter,
// so searches walk the scan window in 90-day chunks.
package caldav
