package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported calendar backends.
const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"
	BackendMemory = "memory"
)

// GoogleConfig selects the Google account and calendar used for bookings.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Account      string `yaml:"account"`
	CalendarID   string `yaml:"calendar_id"`
}

// CalDAVConfig points at a CalDAV server, iCloud by default.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	CalendarName string `yaml:"calendar_name"`
}

// TwilioConfig holds the credentials of the outbound message channel.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	Number     string `yaml:"number"`
}

// Enabled reports whether enough is set to send messages.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.Number != ""
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	ListenAddr string `yaml:"listen"`
	// Timezone is the IANA zone of the calendar (e.g. "America/New_York").
	Timezone string `yaml:"timezone"`

	Backend         string        `yaml:"calendar_backend"`
	CalendarTimeout time.Duration `yaml:"calendar_timeout"`
	Google          GoogleConfig  `yaml:"google"`
	CalDAV          CalDAVConfig  `yaml:"caldav"`

	OpenHour      int           `yaml:"business_open_hour"`
	CloseHour     int           `yaml:"business_close_hour"`
	SlotMinutes   int           `yaml:"slot_minutes"`
	LookaheadDays int           `yaml:"slot_lookahead_days"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	DatabasePath  string        `yaml:"database_path"`
	Twilio        TwilioConfig  `yaml:"twilio"`
	OwnerNumber   string        `yaml:"owner_number"`
	OpenAIKey     string        `yaml:"openai_api_key"`
	OpenAIModel   string        `yaml:"openai_model"`
	RedisAddr     string        `yaml:"redis_addr"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	DigestCron    string        `yaml:"digest_cron"`
	DigestState   string        `yaml:"digest_state"`
	ReportCron    string        `yaml:"health_report_cron"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		ListenAddr:      ":8080",
		Timezone:        "UTC",
		Backend:         BackendGoogle,
		CalendarTimeout: 10 * time.Second,
		Google:          GoogleConfig{Account: "default", CalendarID: "primary"},
		CalDAV:          CalDAVConfig{Endpoint: "https://caldav.icloud.com/"},
		OpenHour:        9,
		CloseHour:       17,
		SlotMinutes:     15,
		LookaheadDays:   30,
		ChannelPrefix:   "whatsapp:",
		DatabasePath:    "aide.db",
		SessionTTL:      time.Hour,
		DigestCron:      "0 21 * * *",
		DigestState:     "digest-state.json",
		ReportCron:      "0 8 * * 1",
	}
}

// Normalize fills in missing or invalid values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.CalendarTimeout <= 0 {
		c.CalendarTimeout = d.CalendarTimeout
	}
	if c.Google.Account == "" {
		c.Google.Account = d.Google.Account
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = d.Google.CalendarID
	}
	if c.CalDAV.Endpoint == "" {
		c.CalDAV.Endpoint = d.CalDAV.Endpoint
	}
	if c.OpenHour < 0 || c.OpenHour > 23 || c.CloseHour <= c.OpenHour || c.CloseHour > 24 {
		c.OpenHour, c.CloseHour = d.OpenHour, d.CloseHour
	}
	if c.SlotMinutes <= 0 {
		c.SlotMinutes = d.SlotMinutes
	}
	if c.LookaheadDays <= 0 {
		c.LookaheadDays = d.LookaheadDays
	}
	if c.DatabasePath == "" {
		c.DatabasePath = d.DatabasePath
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.DigestCron == "" {
		c.DigestCron = d.DigestCron
	}
	if c.ReportCron == "" {
		c.ReportCron = d.ReportCron
	}
}

// Validate checks the settings the selected backend needs.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	switch c.Backend {
	case BackendGoogle, BackendMemory:
	case BackendCalDAV:
		if c.CalDAV.Username == "" || c.CalDAV.Password == "" || c.CalDAV.CalendarName == "" {
			return errors.New("caldav backend requires CALDAV_USERNAME, CALDAV_PASSWORD and CALDAV_CALENDAR_NAME")
		}
	default:
		return fmt.Errorf("unknown calendar backend %q", c.Backend)
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the optional YAML file at path, applies environment overrides
// and normalizes the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":            &cfg.LogLevel,
		"LISTEN_ADDR":          &cfg.ListenAddr,
		"TIMEZONE":             &cfg.Timezone,
		"CALENDAR_BACKEND":     &cfg.Backend,
		"GOOGLE_CLIENT_ID":     &cfg.Google.ClientID,
		"GOOGLE_CLIENT_SECRET": &cfg.Google.ClientSecret,
		"GOOGLE_ACCOUNT":       &cfg.Google.Account,
		"GOOGLE_CALENDAR_ID":   &cfg.Google.CalendarID,
		"CALDAV_ENDPOINT":      &cfg.CalDAV.Endpoint,
		"CALDAV_USERNAME":      &cfg.CalDAV.Username,
		"CALDAV_PASSWORD":      &cfg.CalDAV.Password,
		"CALDAV_CALENDAR_NAME": &cfg.CalDAV.CalendarName,
		"DATABASE_PATH":        &cfg.DatabasePath,
		"TWILIO_ACCOUNT_SID":   &cfg.Twilio.AccountSID,
		"TWILIO_AUTH_TOKEN":    &cfg.Twilio.AuthToken,
		"TWILIO_NUMBER":        &cfg.Twilio.Number,
		"OWNER_NUMBER":         &cfg.OwnerNumber,
		"CHANNEL_PREFIX":       &cfg.ChannelPrefix,
		"OPENAI_API_KEY":       &cfg.OpenAIKey,
		"OPENAI_MODEL":         &cfg.OpenAIModel,
		"REDIS_ADDR":           &cfg.RedisAddr,
		"DIGEST_CRON":          &cfg.DigestCron,
		"DIGEST_STATE":         &cfg.DigestState,
		"HEALTH_REPORT_CRON":   &cfg.ReportCron,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BUSINESS_OPEN_HOUR":  &cfg.OpenHour,
		"BUSINESS_CLOSE_HOUR": &cfg.CloseHour,
		"SLOT_MINUTES":        &cfg.SlotMinutes,
		"SLOT_LOOKAHEAD_DAYS": &cfg.LookaheadDays,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"CALENDAR_TIMEOUT": &cfg.CalendarTimeout,
		"SESSION_TTL":      &cfg.SessionTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}
	return nil
}
