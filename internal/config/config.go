package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BookingURL string
	Timezone   string
	Location   *time.Location

	// target slot and the rows scanned for alternatives
	Courts          []string
	TargetStartHour int
	TargetEndHour   int
	ScanStartHour   int
	ScanEndHour     int
	DaysAheadLimit  int
	WindowDays      int

	// release timing
	ReleaseTime    string
	ReleaseOffset  time.Duration
	ReleaseLead    time.Duration
	WaitForRelease bool

	// browser
	Headless       bool
	BrowserBin     string
	ViewportWidth  int
	ViewportHeight int
	StepTimeout    time.Duration
	CellTimeout    time.Duration
	NavRetries     int
	SettleDelay    time.Duration
	DiagnosticsDir string

	SessionFile   string
	SessionEncKey []byte
	Email         string
	Password      string

	SlackWebhookURL    string
	NotifyQueueSize    int
	SlackSigningSecret string
	ReplayWindow       time.Duration
	ListenAddr         string
	ActionHashKey      []byte
	ActionBlockKey     []byte
	ActionTTL          time.Duration
	RedisURL           string
	DatabaseURL        string
	CallbackRPS        float64
	CallbackBurst      int

	LogLevel  string
	LogFormat string

	Labels Labels
}

// Labels are the vendor page's visible texts. They drift, so they are
// configuration rather than code.
type Labels struct {
	Book             string   `yaml:"book"`
	Confirm          string   `yaml:"confirm"`
	NextDay          string   `yaml:"next_day"`
	DayView          string   `yaml:"day_view"`
	LoggedOutMarkers []string `yaml:"logged_out_markers"`
	BookedMarkers    []string `yaml:"booked_markers"`
	ErrorMarkers     []string `yaml:"error_markers"`
}

// fileConfig is the optional YAML overlay. Secrets are env-only.
type fileConfig struct {
	BookingURL      *string  `yaml:"booking_url"`
	Timezone        *string  `yaml:"timezone"`
	Courts          []string `yaml:"courts"`
	TargetStartHour *int     `yaml:"target_start_hour"`
	TargetEndHour   *int     `yaml:"target_end_hour"`
	ScanStartHour   *int     `yaml:"scan_start_hour"`
	ScanEndHour     *int     `yaml:"scan_end_hour"`
	DaysAheadLimit  *int     `yaml:"days_ahead_limit"`
	WindowDays      *int     `yaml:"window_days"`
	ReleaseTime     *string  `yaml:"release_time"`
	Labels          *Labels  `yaml:"labels"`
}

const DefaultCourts = "Wood 1,Wood 2,Wood 3,Wood 4,Wood 5,Wood 6"

// FromEnv builds the configuration from .env, the process environment and
// the YAML file named by SNIPER_CONFIG, in that order of increasing
// precedence for the non-secret fields. The result is not validated.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BookingURL:         getenv("BOOKING_URL", "https://zonemakati.skedda.com/booking"),
		Timezone:           getenv("TIMEZONE", "Asia/Manila"),
		Courts:             splitList(getenv("TARGET_COURTS", DefaultCourts)),
		ReleaseTime:        getenv("RELEASE_TIME", "00:00:00"),
		BrowserBin:         getenv("BROWSER_BIN", ""),
		DiagnosticsDir:     getenv("DIAGNOSTICS_DIR", ""),
		SessionFile:        getenv("SESSION_FILE", "session_data/auth.json"),
		Email:              getenv("SKEDDA_EMAIL", ""),
		Password:           getenv("SKEDDA_PASSWORD", ""),
		SlackWebhookURL:    getenv("SLACK_WEBHOOK_URL", ""),
		SlackSigningSecret: getenv("SLACK_SIGNING_SECRET", ""),
		ListenAddr:         getenv("LISTEN_ADDR", ":5001"),
		RedisURL:           getenv("REDIS_URL", ""),
		DatabaseURL:        getenv("DATABASE_URL", ""),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		LogFormat:          getenv("LOG_FORMAT", "text"),
		Labels: Labels{
			Book:             getenv("LABEL_BOOK", "Book"),
			Confirm:          getenv("LABEL_CONFIRM", "Confirm booking"),
			NextDay:          getenv("LABEL_NEXT_DAY", "›"),
			DayView:          getenv("LABEL_DAY_VIEW", "Day"),
			LoggedOutMarkers: splitList(getenv("LOGGED_OUT_MARKERS", "VISITOR MODE,LOG IN")),
			BookedMarkers:    splitList(getenv("BOOKED_MARKERS", "already,scheduled")),
			ErrorMarkers:     splitList(getenv("ERROR_MARKERS", "error,not available,unable")),
		},
	}

	var err error
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"TARGET_START_HOUR", 19, &cfg.TargetStartHour},
		{"TARGET_END_HOUR", 21, &cfg.TargetEndHour},
		{"SCAN_START_HOUR", 17, &cfg.ScanStartHour},
		{"SCAN_END_HOUR", 23, &cfg.ScanEndHour},
		{"DAYS_AHEAD_LIMIT", 4, &cfg.DaysAheadLimit},
		{"WINDOW_DAYS", 1, &cfg.WindowDays},
		{"VIEWPORT_WIDTH", 1400, &cfg.ViewportWidth},
		{"VIEWPORT_HEIGHT", 900, &cfg.ViewportHeight},
		{"NAV_RETRIES", 3, &cfg.NavRetries},
		{"NOTIFY_QUEUE_SIZE", 32, &cfg.NotifyQueueSize},
		{"CALLBACK_BURST", 10, &cfg.CallbackBurst},
	}
	for _, v := range ints {
		if *v.dst, err = getInt(v.key, v.def); err != nil {
			return Config{}, err
		}
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"RELEASE_LEAD", 500 * time.Millisecond, &cfg.ReleaseLead},
		{"STEP_TIMEOUT", 2 * time.Second, &cfg.StepTimeout},
		{"CELL_TIMEOUT", 1500 * time.Millisecond, &cfg.CellTimeout},
		{"SETTLE_DELAY", 500 * time.Millisecond, &cfg.SettleDelay},
		{"REPLAY_WINDOW", 5 * time.Minute, &cfg.ReplayWindow},
		{"ACTION_TTL", 96 * time.Hour, &cfg.ActionTTL},
	}
	for _, v := range durations {
		if *v.dst, err = getDuration(v.key, v.def); err != nil {
			return Config{}, err
		}
	}

	if cfg.WaitForRelease, err = getBool("ENABLE_WAIT_FOR_RELEASE", false); err != nil {
		return Config{}, err
	}
	if cfg.Headless, err = getBool("HEADLESS_MODE", false); err != nil {
		return Config{}, err
	}
	if cfg.CallbackRPS, err = strconv.ParseFloat(getenv("CALLBACK_RPS", "5"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid CALLBACK_RPS: %w", err)
	}

	for _, k := range []struct {
		key string
		dst *[]byte
	}{
		{"SESSION_ENC_KEY", &cfg.SessionEncKey},
		{"ACTION_HASH_KEY", &cfg.ActionHashKey},
		{"ACTION_BLOCK_KEY", &cfg.ActionBlockKey},
	} {
		if *k.dst, err = optionalB64(k.key); err != nil {
			return Config{}, err
		}
	}

	if path := getenv("SNIPER_CONFIG", ""); path != "" {
		if err := cfg.overlay(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c *Config) overlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	setString(&c.BookingURL, f.BookingURL)
	setString(&c.Timezone, f.Timezone)
	setString(&c.ReleaseTime, f.ReleaseTime)
	setInt(&c.TargetStartHour, f.TargetStartHour)
	setInt(&c.TargetEndHour, f.TargetEndHour)
	setInt(&c.ScanStartHour, f.ScanStartHour)
	setInt(&c.ScanEndHour, f.ScanEndHour)
	setInt(&c.DaysAheadLimit, f.DaysAheadLimit)
	setInt(&c.WindowDays, f.WindowDays)
	if len(f.Courts) > 0 {
		c.Courts = f.Courts
	}
	if l := f.Labels; l != nil {
		setString(&c.Labels.Book, &l.Book)
		setString(&c.Labels.Confirm, &l.Confirm)
		setString(&c.Labels.NextDay, &l.NextDay)
		setString(&c.Labels.DayView, &l.DayView)
		if len(l.LoggedOutMarkers) > 0 {
			c.Labels.LoggedOutMarkers = l.LoggedOutMarkers
		}
		if len(l.BookedMarkers) > 0 {
			c.Labels.BookedMarkers = l.BookedMarkers
		}
		if len(l.ErrorMarkers) > 0 {
			c.Labels.ErrorMarkers = l.ErrorMarkers
		}
	}
	return nil
}

// Validate rejects malformed configuration and resolves derived fields
// (Location, ReleaseOffset).
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	hour := func(name string, v int) {
		if v < 0 || v > 23 {
			add("%s must be within 0-23 (got %d)", name, v)
		}
	}
	hour("TARGET_START_HOUR", c.TargetStartHour)
	hour("SCAN_START_HOUR", c.ScanStartHour)
	if c.TargetEndHour < 1 || c.TargetEndHour > 24 {
		add("TARGET_END_HOUR must be within 1-24 (got %d)", c.TargetEndHour)
	}
	if c.ScanEndHour < 1 || c.ScanEndHour > 24 {
		add("SCAN_END_HOUR must be within 1-24 (got %d)", c.ScanEndHour)
	}
	if c.TargetStartHour >= c.TargetEndHour {
		add("TARGET_START_HOUR must be before TARGET_END_HOUR")
	}
	if c.ScanStartHour >= c.ScanEndHour {
		add("SCAN_START_HOUR must be before SCAN_END_HOUR")
	}
	if c.ScanStartHour > c.TargetStartHour || c.ScanEndHour <= c.TargetStartHour {
		add("scan range %d-%d must include TARGET_START_HOUR %d", c.ScanStartHour, c.ScanEndHour, c.TargetStartHour)
	}

	if len(c.Courts) == 0 {
		add("TARGET_COURTS must name at least one court")
	}
	seen := map[string]bool{}
	for _, name := range c.Courts {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			add("TARGET_COURTS contains an empty name")
			continue
		}
		if seen[key] {
			add("TARGET_COURTS lists %q twice", name)
		}
		seen[key] = true
	}

	if c.DaysAheadLimit < 0 {
		add("DAYS_AHEAD_LIMIT must not be negative")
	}
	if c.WindowDays < 1 {
		add("WINDOW_DAYS must be at least 1")
	}
	if c.ReleaseLead < 0 {
		add("RELEASE_LEAD must not be negative")
	}
	off, err := ParseClock(c.ReleaseTime)
	if err != nil {
		add("RELEASE_TIME: %v", err)
	}
	c.ReleaseOffset = off

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		add("TIMEZONE: %v", err)
	}
	c.Location = loc

	if c.StepTimeout <= 0 || c.CellTimeout <= 0 {
		add("STEP_TIMEOUT and CELL_TIMEOUT must be positive")
	}
	if c.NavRetries < 1 {
		add("NAV_RETRIES must be at least 1")
	}
	if c.NotifyQueueSize < 1 {
		add("NOTIFY_QUEUE_SIZE must be at least 1")
	}
	if c.BookingURL == "" {
		add("BOOKING_URL is required")
	}
	if c.Labels.Book == "" || c.Labels.Confirm == "" || c.Labels.NextDay == "" {
		add("LABEL_BOOK, LABEL_CONFIRM and LABEL_NEXT_DAY must not be empty")
	}
	if len(c.SessionEncKey) > 0 && len(c.SessionEncKey) < 32 {
		add("SESSION_ENC_KEY must decode to at least 32 bytes (got %d)", len(c.SessionEncKey))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateServer adds the requirements of the callback listener.
func (c *Config) ValidateServer() error {
	if c.SlackSigningSecret == "" {
		return fmt.Errorf("SLACK_SIGNING_SECRET is required for the server")
	}
	if err := c.ValidateActionKeys(); err != nil {
		return err
	}
	if c.ReplayWindow <= 0 {
		return fmt.Errorf("REPLAY_WINDOW must be positive")
	}
	if c.CallbackRPS <= 0 || c.CallbackBurst < 1 {
		return fmt.Errorf("CALLBACK_RPS and CALLBACK_BURST must be positive")
	}
	return nil
}

// ValidateActionKeys checks the keys used for interactive buttons.
func (c *Config) ValidateActionKeys() error {
	if len(c.ActionHashKey) < 32 {
		return fmt.Errorf("ACTION_HASH_KEY must decode to at least 32 bytes (got %d)", len(c.ActionHashKey))
	}
	switch len(c.ActionBlockKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("ACTION_BLOCK_KEY must decode to 16, 24 or 32 bytes (got %d)", len(c.ActionBlockKey))
	}
	if c.ActionTTL <= 0 {
		return fmt.Errorf("ACTION_TTL must be positive")
	}
	return nil
}

// HasActionKeys reports whether interactive buttons can be emitted.
func (c *Config) HasActionKeys() bool { return c.ValidateActionKeys() == nil }

// ScanHours lists the row start hours scanned on each day.
func (c *Config) ScanHours() []int {
	var hours []int
	for h := c.ScanStartHour; h < c.ScanEndHour; h++ {
		hours = append(hours, h)
	}
	return hours
}

// ParseClock parses HH:MM[:SS] into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%q is not HH:MM[:SS]", s)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func getInt(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return n, nil
}

func getDuration(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", k, err)
	}
	return d, nil
}

func getBool(k string, def bool) (bool, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", k, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// optionalB64 decodes a base64 key. The value may also be a path to a file
// holding it, for secret mounts.
func optionalB64(k string) ([]byte, error) {
	v := getenv(k, "")
	if v == "" {
		return nil, nil
	}
	if b, err := os.ReadFile(v); err == nil {
		v = strings.TrimSpace(string(b))
	}
	if b, err := base64.StdEncoding.DecodeString(v); err == nil {
		return b, nil
	}
	b, err := base64.RawStdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", k, err)
	}
	return b, nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
