package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/snowpost/icloudmcp/internal/instrumentation"
	"github.com/snowpost/icloudmcp/internal/logging"
)

// Defaults matching iCloud's CalDAV behavior.
const (
	DefaultBaseURL = "https://caldav.icloud.com"

	// DefaultScanDays is the window searched around now.
	DefaultScanDays = 365

	// DefaultChunkDays is the widest time-range query iCloud accepts
	// reliably.
	DefaultChunkDays = 90

	// DefaultMaxResults caps search and listing output.
	DefaultMaxResults = 200
)

// Config holds the connection settings for the calendar backend.
type Config struct {
	// BaseURL is the CalDAV endpoint. Defaults to the iCloud endpoint.
	BaseURL string

	// Username is the Apple ID email address.
	Username string

	// Password is an app-specific password.
	Password string

	ScanDays   int
	ChunkDays  int
	MaxResults int

	// Logger receives structured operation logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records protocol operation metrics. Optional.
	Metrics *instrumentation.Metrics
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ScanDays <= 0 {
		c.ScanDays = DefaultScanDays
	}
	if c.ChunkDays <= 0 {
		c.ChunkDays = DefaultChunkDays
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that the configuration carries credentials.
func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("caldav: username (Apple ID) is required")
	}
	if c.Password == "" {
		return fmt.Errorf("caldav: app-specific password is required")
	}
	return nil
}

// CalendarInfo describes a discovered calendar.
type CalendarInfo struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
}

// Client talks to the iCloud CalDAV server. Discovery results are
// cached for the lifetime of the client.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dav    *caldav.Client

	mu        sync.Mutex
	calendars []caldav.Calendar
}

// NewClient creates a calendar client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dav, err := caldav.NewClient(
		webdav.HTTPClientWithBasicAuth(nil, cfg.Username, cfg.Password),
		cfg.BaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("caldav client for %s: %w", cfg.BaseURL, err)
	}
	return &Client{
		cfg:    cfg,
		logger: logging.WithService(cfg.Logger, logging.ServiceCalDAV),
		dav:    dav,
	}, nil
}

// record emits the operation metric and a structured log line.
func (c *Client) record(ctx context.Context, op string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordICloudOperation(ctx, instrumentation.ServiceCalDAV, op, status, time.Since(start))
	}
	c.logger.Debug("caldav operation",
		logging.Operation(op),
		logging.Status(status),
		logging.Err(err))
}

// discover walks the principal and home-set chain once and caches the
// VEVENT-capable calendars.
func (c *Client) discover(ctx context.Context) ([]caldav.Calendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendars != nil {
		return c.calendars, nil
	}

	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find calendar home set: %w", err)
	}
	all, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	calendars := make([]caldav.Calendar, 0, len(all))
	for _, cal := range all {
		if supportsEvents(cal) {
			calendars = append(calendars, cal)
		}
	}
	sort.Slice(calendars, func(i, j int) bool { return calendars[i].Name < calendars[j].Name })
	c.calendars = calendars
	return calendars, nil
}

// supportsEvents reports whether a calendar accepts VEVENT components.
// An empty supported set means the server did not advertise one, which
// iCloud does for plain event calendars.
func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

// ListCalendars returns the discovered calendars.
func (c *Client) ListCalendars(ctx context.Context) (infos []CalendarInfo, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationList, start, err) }(time.Now())

	calendars, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	infos = make([]CalendarInfo, 0, len(calendars))
	for _, cal := range calendars {
		infos = append(infos, CalendarInfo{
			Name:        cal.Name,
			Path:        cal.Path,
			Description: cal.Description,
		})
	}
	return infos, nil
}

// calendarByName resolves a calendar by display name. An empty name
// selects the first calendar.
func (c *Client) calendarByName(ctx context.Context, name string) (caldav.Calendar, error) {
	calendars, err := c.discover(ctx)
	if err != nil {
		return caldav.Calendar{}, err
	}
	if len(calendars) == 0 {
		return caldav.Calendar{}, fmt.Errorf("no calendars found")
	}
	if name == "" {
		return calendars[0], nil
	}
	for _, cal := range calendars {
		if cal.Name == name {
			return cal, nil
		}
	}
	return caldav.Calendar{}, fmt.Errorf("calendar %q not found", name)
}

// queryRange runs a VEVENT time-range query against one calendar.
func (c *Client) queryRange(ctx context.Context, cal caldav.Calendar, start, end time.Time) ([]caldav.CalendarObject, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}
	objs, err := c.dav.QueryCalendar(ctx, cal.Path, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", cal.Name, err)
	}
	return objs, nil
}

// eventsFromObjects flattens calendar objects into sorted events.
func eventsFromObjects(objs []caldav.CalendarObject, calendarName string) []Event {
	var events []Event
	for _, obj := range objs {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name == ical.CompEvent {
				events = append(events, eventFromComponent(child, calendarName))
			}
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events
}

// ListEvents returns upcoming events within daysAhead days, soonest
// first.
func (c *Client) ListEvents(ctx context.Context, calendarName string, daysAhead, limit int) (events []Event, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationList, start, err) }(time.Now())

	if daysAhead <= 0 {
		daysAhead = 7
	}
	if limit <= 0 || limit > c.cfg.MaxResults {
		limit = c.cfg.MaxResults
	}

	cal, err := c.calendarByName(ctx, calendarName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var objs []caldav.CalendarObject
	for _, r := range chunkRanges(now, now.AddDate(0, 0, daysAhead), c.cfg.ChunkDays) {
		chunk, err := c.queryRange(ctx, cal, r[0], r[1])
		if err != nil {
			return nil, err
		}
		objs = append(objs, chunk...)
	}

	events = eventsFromObjects(objs, cal.Name)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// SearchEvents scans scanDays backward and forward from now in
// chunk-sized queries and returns events matching the query text.
func (c *Client) SearchEvents(ctx context.Context, calendarName, query string, scanDays, limit int) (events []Event, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationSearch, start, err) }(time.Now())

	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if scanDays <= 0 {
		scanDays = c.cfg.ScanDays
	}
	if limit <= 0 || limit > c.cfg.MaxResults {
		limit = c.cfg.MaxResults
	}

	cal, err := c.calendarByName(ctx, calendarName)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	seen := make(map[string]bool)
	for _, r := range chunkRanges(now.AddDate(0, 0, -scanDays), now.AddDate(0, 0, scanDays), c.cfg.ChunkDays) {
		objs, err := c.queryRange(ctx, cal, r[0], r[1])
		if err != nil {
			return nil, err
		}
		for _, e := range eventsFromObjects(objs, cal.Name) {
			if seen[e.UID] || !matchesQuery(e, query) {
				continue
			}
			seen[e.UID] = true
			events = append(events, e)
			if len(events) >= limit {
				return events, nil
			}
		}
	}
	return events, nil
}

// CreateEvent writes a new event resource and returns its view.
func (c *Client) CreateEvent(ctx context.Context, calendarName string, params EventParams) (event Event, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationCreate, start, err) }(time.Now())

	if params.Summary == "" {
		return Event{}, fmt.Errorf("event summary is required")
	}
	if params.Start.IsZero() {
		return Event{}, fmt.Errorf("event start time is required")
	}

	cal, err := c.calendarByName(ctx, calendarName)
	if err != nil {
		return Event{}, err
	}

	obj, uid := newEventCalendar(params, time.Now())
	resourcePath := path.Join(cal.Path, uid+".ics")
	if _, err := c.dav.PutCalendarObject(ctx, resourcePath, obj); err != nil {
		return Event{}, fmt.Errorf("put event: %w", err)
	}
	return eventFromComponent(obj.Children[0], cal.Name), nil
}

// findEventObject locates the calendar object containing the event
// with the given UID within the scan window.
func (c *Client) findEventObject(ctx context.Context, cal caldav.Calendar, uid string) (*caldav.CalendarObject, error) {
	now := time.Now()
	for _, r := range chunkRanges(now.AddDate(0, 0, -c.cfg.ScanDays), now.AddDate(0, 0, c.cfg.ScanDays), c.cfg.ChunkDays) {
		objs, err := c.queryRange(ctx, cal, r[0], r[1])
		if err != nil {
			return nil, err
		}
		for i := range objs {
			obj := &objs[i]
			if obj.Data == nil {
				continue
			}
			for _, child := range obj.Data.Children {
				if child.Name == ical.CompEvent && propText(child, ical.PropUID) == uid {
					return obj, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("event %q not found in %s", uid, cal.Name)
}

// UpdateEvent applies a partial update to an event and writes it back.
func (c *Client) UpdateEvent(ctx context.Context, calendarName, uid string, upd EventUpdate) (event Event, err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationUpdate, start, err) }(time.Now())

	cal, err := c.calendarByName(ctx, calendarName)
	if err != nil {
		return Event{}, err
	}
	obj, err := c.findEventObject(ctx, cal, uid)
	if err != nil {
		return Event{}, err
	}

	for _, child := range obj.Data.Children {
		if child.Name == ical.CompEvent && propText(child, ical.PropUID) == uid {
			applyEventUpdate(child, upd, time.Now())
			if _, err := c.dav.PutCalendarObject(ctx, obj.Path, obj.Data); err != nil {
				return Event{}, fmt.Errorf("put event: %w", err)
			}
			return eventFromComponent(child, cal.Name), nil
		}
	}
	return Event{}, fmt.Errorf("event %q not found in %s", uid, cal.Name)
}

// DeleteEvent removes the event resource with the given UID.
func (c *Client) DeleteEvent(ctx context.Context, calendarName, uid string) (err error) {
	defer func(start time.Time) { c.record(ctx, instrumentation.OperationDelete, start, err) }(time.Now())

	cal, err := c.calendarByName(ctx, calendarName)
	if err != nil {
		return err
	}
	obj, err := c.findEventObject(ctx, cal, uid)
	if err != nil {
		return err
	}
	if err := c.dav.RemoveAll(ctx, obj.Path); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}
