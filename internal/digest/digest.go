// Package digest sends the owner a daily summary of tasks and upcoming bookings,
// and a weekly report of the health data received.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"aide/internal/health"
	"aide/internal/models"
	"aide/internal/scheduler"
	"aide/internal/tasks"
)

// DefaultSchedule sends the digest every day at 21:00.
const DefaultSchedule = "0 21 * * *"

// DefaultReportSchedule sends the health report on Mondays at 08:00.
const DefaultReportSchedule = "0 8 * * 1"

// TaskFinder lists stored tasks and inbound messages.
type TaskFinder interface {
	FindTasks(ctx context.Context, q tasks.Query) ([]*models.Task, error)
	RecentMessages(ctx context.Context, senders []string, since time.Time) ([]*models.Message, error)
	HealthRecords(ctx context.Context, from, to string) ([]*models.HealthRecord, error)
}

// EventFetcher searches calendar events.
type EventFetcher interface {
	FetchEvents(ctx context.Context, f scheduler.Filter) ([]models.EventDetails, error)
}

// State records the last day a digest and the last week a health report
// were delivered, so a restart does not resend them.
type State struct {
	LastSent   string `json:"last_sent"`
	LastReport string `json:"last_report,omitempty"`
}

// Digester builds and delivers the daily digest.
type Digester struct {
	logger    *slog.Logger
	tasks     TaskFinder
	events    EventFetcher
	notifier  scheduler.Notifier
	owner     string
	location  *time.Location
	statePath string
	dryRun    bool
	now       func() time.Time
}

// NewDigester creates a new Digester. An empty statePath disables the sent-once check.
func NewDigester(logger *slog.Logger, taskFinder TaskFinder, events EventFetcher, notifier scheduler.Notifier, owner string, loc *time.Location, statePath string, dryRun bool) *Digester {
	if loc == nil {
		loc = time.UTC
	}
	return &Digester{
		logger:    logger,
		tasks:     taskFinder,
		events:    events,
		notifier:  notifier,
		owner:     owner,
		location:  loc,
		statePath: statePath,
		dryRun:    dryRun,
		now:       time.Now,
	}
}

// Build renders the digest for day: the messages and tasks received since
// the start of that day and the events booked for the following day.
func (d *Digester) Build(ctx context.Context, day time.Time) (string, error) {
	local := day.In(d.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.location)
	next := start.AddDate(0, 0, 1)

	created, err := d.tasks.FindTasks(ctx, tasks.Query{CreatedAfter: start, CreatedBefore: next})
	if err != nil {
		return "", fmt.Errorf("failed to load tasks: %w", err)
	}
	messages, err := d.tasks.RecentMessages(ctx, nil, start)
	if err != nil {
		return "", fmt.Errorf("failed to load messages: %w", err)
	}
	upcoming, err := d.events.FetchEvents(ctx, scheduler.Filter{When: &next})
	if err != nil {
		return "", fmt.Errorf("failed to load events: %w", err)
	}

	counts := map[models.TaskStatus]int{}
	for _, t := range created {
		counts[t.Status]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily summary for %s\n", start.Format(time.DateOnly))
	fmt.Fprintf(&b, "Messages received: %d\n", len(messages))
	fmt.Fprintf(&b, "Tasks received: %d (scheduled %d, pending %d, cancelled %d)\n",
		len(created), counts[models.StatusScheduled], counts[models.StatusPending], counts[models.StatusCancelled])
	for _, t := range created {
		line := fmt.Sprintf("- [%s] %s", t.Status, t.What)
		if t.When != nil {
			line += " at " + t.When.In(d.location).Format(time.DateTime)
		}
		if t.Sender != "" && t.Sender != models.SelfSender {
			line += " (from " + t.Sender + ")"
		}
		b.WriteString(line + "\n")
	}

	fmt.Fprintf(&b, "Tomorrow: %d event(s)\n", len(upcoming))
	for _, ev := range upcoming {
		fmt.Fprintf(&b, "- %s %s\n", ev.Start.In(d.location).Format("15:04"), ev.Summary)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Run builds today's digest and sends it to the owner unless it was already sent.
func (d *Digester) Run(ctx context.Context) error {
	today := d.now().In(d.location)
	return d.deliver(ctx, "digest", today.Format(time.DateOnly),
		func(s *State) *string { return &s.LastSent },
		func() (string, error) { return d.Build(ctx, today) })
}

// HealthReport renders the health records of the seven days ending on day.
func (d *Digester) HealthReport(ctx context.Context, day time.Time) (string, error) {
	local := day.In(d.location)
	to := local.Format(time.DateOnly)
	from := local.AddDate(0, 0, -6).Format(time.DateOnly)

	records, err := d.tasks.HealthRecords(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("failed to load health records: %w", err)
	}
	return health.Report(from, to, records), nil
}

// RunHealthReport sends the weekly health report unless it was already sent this ISO week.
func (d *Digester) RunHealthReport(ctx context.Context) error {
	today := d.now().In(d.location)
	year, week := today.ISOWeek()
	return d.deliver(ctx, "health report", fmt.Sprintf("%d-W%02d", year, week),
		func(s *State) *string { return &s.LastReport },
		func() (string, error) { return d.HealthReport(ctx, today) })
}

// deliver sends the text from build to the owner once per key. field selects
// the State entry that remembers the last key delivered.
func (d *Digester) deliver(ctx context.Context, kind, key string, field func(*State) *string, build func() (string, error)) error {
	state, err := d.loadState()
	if err != nil {
		return fmt.Errorf("failed to load digest state: %w", err)
	}
	if *field(&state) == key {
		d.logger.Info("Already sent, skipping.", "kind", kind, "period", key)
		return nil
	}

	text, err := build()
	if err != nil {
		return err
	}

	if d.dryRun {
		d.logger.Info("[DRY RUN] Would send "+kind, "to", d.owner, "text", text)
		return nil
	}
	if d.owner == "" {
		return fmt.Errorf("no owner number configured for the %s", kind)
	}
	if err := d.notifier.Send(ctx, text, d.owner); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}

	*field(&state) = key
	if err := d.saveState(state); err != nil {
		d.logger.Error("Failed to save digest state", "error", err)
	}
	d.logger.Info("Sent.", "kind", kind, "period", key, "to", d.owner)
	return nil
}

// Start runs the digest on the cron schedule spec and the health report on
// reportSpec until ctx is done. Empty specs fall back to the defaults.
func (d *Digester) Start(ctx context.Context, spec, reportSpec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if reportSpec == "" {
		reportSpec = DefaultReportSchedule
	}
	c := cron.New(cron.WithLocation(d.location))
	if _, err := c.AddFunc(spec, func() {
		if err := d.Run(ctx); err != nil {
			d.logger.Error("Digest run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}
	if _, err := c.AddFunc(reportSpec, func() {
		if err := d.RunHealthReport(ctx); err != nil {
			d.logger.Error("Health report failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid health report schedule %q: %w", reportSpec, err)
	}

	d.logger.Info("Digest scheduled.", "schedule", spec, "health_report", reportSpec, "timezone", d.location.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (d *Digester) loadState() (State, error) {
	var state State
	if d.statePath == "" {
		return state, nil
	}
	data, err := os.ReadFile(d.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	return state, nil
}

func (d *Digester) saveState(state State) error {
	if d.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal digest state: %w", err)
	}
	return os.WriteFile(d.statePath, data, 0o644)
}
