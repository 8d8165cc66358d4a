package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"aide/internal/config"
	"aide/internal/digest"
	"aide/internal/google"
	"aide/internal/icloud"
	"aide/internal/intent"
	"aide/internal/notify"
	"aide/internal/scheduler"
	"aide/internal/session"
	"aide/internal/tasks"
)

// components holds everything the commands need, built once from config.
type components struct {
	cfg          *config.Config
	logger       *slog.Logger
	loc          *time.Location
	db           *gorm.DB
	store        *tasks.Store
	synchronizer *scheduler.Synchronizer
	finder       *scheduler.Finder
	router       *intent.Router
	notifier     scheduler.Notifier
}

func (c *components) Close() {
	if c.db == nil {
		return
	}
	if sqlDB, err := c.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (c *components) options() scheduler.Options {
	return scheduler.Options{
		Location:      c.loc,
		OpenHour:      c.cfg.OpenHour,
		CloseHour:     c.cfg.CloseHour,
		Slot:          time.Duration(c.cfg.SlotMinutes) * time.Minute,
		MaxLookahead:  time.Duration(c.cfg.LookaheadDays) * 24 * time.Hour,
		ChannelPrefix: c.cfg.ChannelPrefix,
	}
}

// build wires the store, calendar backend, synchronizer and router.
// The classifier is only created when an API key is configured.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, logger: logger, loc: loc}

	c.db, err = tasks.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c.store = tasks.NewStore(c.db)

	cal, err := newCalendar(ctx, cfg, logger, loc)
	if err != nil {
		c.Close()
		return nil, err
	}
	cal = scheduler.WithTimeout(cal, cfg.CalendarTimeout)

	if cfg.Twilio.Enabled() {
		c.notifier = notify.NewTwilioNotifier(logger, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.Number, cfg.ChannelPrefix)
	} else {
		logger.Warn("Twilio is not configured, notices will only be logged.")
		c.notifier = notify.NewLogNotifier(logger)
	}

	opts := c.options()
	c.finder = scheduler.NewFinder(scheduler.NewChecker(cal, opts), opts)
	c.synchronizer = scheduler.NewSynchronizer(logger, cal, c.finder, c.notifier, opts)

	var classifier intent.Classifier
	if cfg.OpenAIKey != "" {
		classifier = intent.NewOpenAIClassifier(logger, cfg.OpenAIKey, cfg.OpenAIModel, loc)
	}
	c.router = intent.NewRouter(logger, classifier, c.store, c.synchronizer, c.finder, loc)
	return c, nil
}

func newCalendar(ctx context.Context, cfg *config.Config, logger *slog.Logger, loc *time.Location) (scheduler.Calendar, error) {
	switch cfg.Backend {
	case config.BackendCalDAV:
		client, err := icloud.NewClient(ctx, logger, cfg.CalDAV.Endpoint, cfg.CalDAV.Username, cfg.CalDAV.Password, cfg.CalDAV.CalendarName, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		return client, nil
	case config.BackendMemory:
		logger.Warn("Using the in-memory calendar, bookings are lost on exit.")
		return scheduler.NewMemoryCalendar(), nil
	default:
		client, err := google.NewClient(ctx, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.Account, cfg.Google.CalendarID, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", cfg.Google.Account, err)
		}
		return client, nil
	}
}

// newHistory returns a Redis history when REDIS_ADDR is set and reachable.
func newHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.HistoryStore, func(), error) {
	if cfg.RedisAddr == "" {
		return session.NewMemoryHistory(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	history := session.NewRedisHistory(client, "aide:call:", cfg.SessionTTL)
	if err := history.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Using Redis for call history.", "addr", cfg.RedisAddr)
	return history, func() { client.Close() }, nil
}

func (c *components) digester(dryRun bool) *digest.Digester {
	return digest.NewDigester(c.logger, c.store, c.synchronizer, c.notifier, c.cfg.OwnerNumber, c.loc, c.cfg.DigestState, dryRun)
}
