package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"aide/internal/models"
	"aide/internal/scheduler"
)

const (
	// DefaultEndpoint is the iCloud CalDAV root.
	DefaultEndpoint = "https://caldav.icloud.com/"

	tagPropPrefix = "X-AIDE-"
	productID     = "-//aide//EN"
)

// openRange bounds queries that have no upper limit.
const openRange = 5 * 365 * 24 * time.Hour

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "aide/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient books events in a single CalDAV calendar (iCloud by default).
// It implements scheduler.Calendar.
type CalDAVClient struct {
	caldavClient *caldav.Client
	httpClient   *http.Client
	logger       *slog.Logger
	endpoint     *url.URL
	calendarPath string
	location     *time.Location
}

// NewClient creates a CalDAVClient and resolves calendarName to its collection path.
// An empty endpoint selects iCloud.
func NewClient(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string, loc *time.Location) (*CalDAVClient, error) {
	httpClient := &http.Client{Transport: &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}}

	c, err := NewClientForCalendar(logger, httpClient, endpoint, "", loc)
	if err != nil {
		return nil, err
	}

	logger.Info("Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

// NewClientForCalendar builds a client for a known calendar collection path.
func NewClientForCalendar(logger *slog.Logger, httpClient *http.Client, endpoint, calendarPath string, loc *time.Location) (*CalDAVClient, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if loc == nil {
		loc = time.UTC
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid caldav endpoint %q: %w", endpoint, err)
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		httpClient:   httpClient,
		logger:       logger,
		endpoint:     base,
		calendarPath: calendarPath,
		location:     loc,
	}, nil
}

// List queries the calendar for VEVENTs in the window and filters them by tag.
func (c *CalDAVClient) List(ctx context.Context, q scheduler.ListQuery) ([]*models.Event, error) {
	c.logger.Debug("Querying CalDAV calendar", "path", c.calendarPath, "timeMin", q.TimeMin, "timeMax", q.TimeMax, "tags", q.Tags)

	eventFilter := caldav.CompFilter{Name: ical.CompEvent}
	if !q.TimeMin.IsZero() || !q.TimeMax.IsZero() {
		eventFilter.Start = q.TimeMin
		eventFilter.End = q.TimeMax
		if eventFilter.End.IsZero() {
			eventFilter.End = q.TimeMin.Add(openRange)
		}
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{eventFilter},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, c.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var events []*models.Event
	for _, obj := range objects {
		for _, ev := range c.fromICal(obj) {
			if q.Matches(ev) {
				events = append(events, ev)
			}
		}
	}

	c.logger.Debug("Fetched events from CalDAV", "count", len(events))
	return events, nil
}

// Insert writes ev as a new calendar object named after a fresh UID.
func (c *CalDAVClient) Insert(ctx context.Context, ev *models.Event) (*models.Event, error) {
	uid := uuid.NewString()
	c.logger.Debug("Creating CalDAV event", "summary", ev.Summary, "uid", uid)

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, toICal(uid, ev))

	if _, err := c.caldavClient.PutCalendarObject(ctx, c.objectPath(uid), cal); err != nil {
		return nil, fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}

	created := *ev
	created.ID = uid
	created.Source = "caldav"
	created.Tags = make(map[string]string, len(ev.Tags))
	for k, v := range ev.Tags {
		created.Tags[k] = v
	}
	c.logger.Info("Created CalDAV event", "eventID", uid, "summary", ev.Summary)
	return &created, nil
}

// Delete removes the calendar object holding the event.
func (c *CalDAVClient) Delete(ctx context.Context, eventID string) error {
	target := c.endpoint.ResolveReference(&url.URL{Path: c.objectPath(eventID)})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", scheduler.ErrEventNotFound, eventID)
	case resp.StatusCode >= 300:
		return fmt.Errorf("failed to delete event: server returned %s", resp.Status)
	}
	return nil
}

func (c *CalDAVClient) objectPath(eventID string) string {
	return path.Join(c.calendarPath, eventID+".ics")
}

// toICal converts an internal Event model to an ical.Component (VEvent).
func toICal(uid string, event *models.Event) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ve.Props.SetText(ical.PropLocation, event.Location)
	}
	for k, v := range event.Tags {
		p := ical.NewProp(tagProp(k))
		p.SetText(v)
		ve.Props.Set(p)
	}
	return ve
}

// fromICal extracts the timed VEVENTs of a calendar object.
func (c *CalDAVClient) fromICal(obj caldav.CalendarObject) []*models.Event {
	if obj.Data == nil {
		return nil
	}
	id := strings.TrimSuffix(path.Base(obj.Path), ".ics")

	var events []*models.Event
	for _, ve := range obj.Data.Events() {
		if p := ve.Props.Get(ical.PropDateTimeStart); p == nil || p.ValueType() == ical.ValueDate {
			continue
		}
		start, err := ve.DateTimeStart(c.location)
		if err != nil {
			c.logger.Warn("Skipping event with unparseable start", "path", obj.Path, "error", err)
			continue
		}
		end, err := ve.DateTimeEnd(c.location)
		if err != nil || end.IsZero() {
			c.logger.Warn("Skipping event with unparseable end", "path", obj.Path, "error", err)
			continue
		}

		tags := map[string]string{}
		for name, props := range ve.Props {
			if key, ok := tagKey(name); ok && len(props) > 0 {
				tags[key] = props[0].Value
			}
		}

		events = append(events, &models.Event{
			ID:          id,
			Summary:     text(ve.Component, ical.PropSummary),
			Description: text(ve.Component, ical.PropDescription),
			Location:    text(ve.Component, ical.PropLocation),
			StartTime:   start,
			EndTime:     end,
			Tags:        tags,
			Source:      "caldav",
		})
	}
	return events
}

func text(comp *ical.Component, name string) string {
	v, err := comp.Props.Text(name)
	if err != nil {
		return ""
	}
	return v
}

// tagProp maps a metadata key such as "task_id" to X-AIDE-TASK-ID.
func tagProp(key string) string {
	return tagPropPrefix + strings.ToUpper(strings.ReplaceAll(key, "_", "-"))
}

func tagKey(prop string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.ToUpper(prop), tagPropPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.ToLower(strings.ReplaceAll(rest, "-", "_")), true
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
