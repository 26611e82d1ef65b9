package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/mapper"
	"github.com/starford/pagesync/internal/notion"
	"github.com/starford/pagesync/internal/reconciler"
	"github.com/starford/pagesync/internal/retry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Notion  NotionConfig      `yaml:"notion"`
	Targets []TargetConfig    `yaml:"targets"`
	Content ContentConfig     `yaml:"content"`
	Sync    SyncConfig        `yaml:"sync"`
	State   StateConfig       `yaml:"state"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Mapping MappingConfig     `yaml:"mapping"`
	Hugo    HugoConfig        `yaml:"hugo"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Notion.Validate(); err != nil {
		return fmt.Errorf("notion: %w", err)
	}
	if err := validation.Validate(c.Targets, validation.Required.Error("at least one target is required")); err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if _, dup := seen[t.DatabaseID]; dup {
			return fmt.Errorf("targets: database %q listed twice", t.DatabaseID)
		}
		seen[t.DatabaseID] = struct{}{}
	}
	if err := c.Content.Validate(); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.State.Validate(); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Mapping.Validate(); err != nil {
		return fmt.Errorf("mapping: %w", err)
	}
	if err := c.Hugo.Validate(); err != nil {
		return fmt.Errorf("hugo: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	LogFile  LogFile    `yaml:"log_file"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.LogFile.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogFile configures an optional rotating log file written alongside
// the console output. An empty Path disables it.
type LogFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate validates the log file configuration.
func (c *LogFile) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// NotionConfig holds the Notion API client configuration.
type NotionConfig struct {
	Token      string        `yaml:"token"`
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
	PageSize   int           `yaml:"page_size"`
	MaxDepth   int           `yaml:"max_depth"`
	Retry      RetryConfig   `yaml:"retry"`
}

// Validate validates the Notion configuration.
func (c *NotionConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.PageSize, validation.Min(0), validation.Max(100)),
		validation.Field(&c.MaxDepth, validation.Min(0)),
	); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// RetryConfig bounds retries of transient API failures.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxRetries, validation.Min(0)),
		validation.Field(&c.BaseDelay, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxDelay, validation.Required, validation.Min(c.BaseDelay)),
		validation.Field(&c.Jitter, validation.Min(0.0), validation.Max(0.99)),
	)
}

// Policy converts the configuration to a retry.Policy.
func (c RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxRetries: c.MaxRetries, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay, Jitter: c.Jitter}
}

// TargetConfig binds one Notion database to a content bucket.
type TargetConfig struct {
	DatabaseID string `yaml:"database_id"`
	Bucket     string `yaml:"bucket"`
	DatePrefix bool   `yaml:"date_prefix"`
	// Filter is passed verbatim as the database query filter.
	Filter map[string]any `yaml:"filter"`
}

// Validate implements validation.Validatable.
func (t TargetConfig) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.DatabaseID, validation.Required),
		validation.Field(&t.Bucket, validation.Required),
	)
}

// ContentConfig points at the site content directory pagesync writes to.
type ContentConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the content configuration.
func (c *ContentConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// SyncConfig tunes reconciliation passes.
type SyncConfig struct {
	Mode              detector.Mode `yaml:"mode"`
	TrustTimestamps   bool          `yaml:"trust_timestamps"`
	Concurrency       int           `yaml:"concurrency"`
	MaxReportedErrors int           `yaml:"max_reported_errors"`
	// Interval schedules passes while serving; zero disables the schedule.
	Interval      time.Duration `yaml:"interval"`
	DriftDebounce time.Duration `yaml:"drift_debounce"`
	Watch         bool          `yaml:"watch"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = detector.ModeIncremental
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.In(detector.ModeIncremental, detector.ModeFull)),
		validation.Field(&c.Concurrency, validation.Min(1), validation.Max(64)),
		validation.Field(&c.MaxReportedErrors, validation.Min(0)),
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.DriftDebounce, validation.Min(time.Duration(0))),
	)
}

// StateConfig selects the sync state backend by DSN; see state.OpenBackend.
type StateConfig struct {
	DSN string `yaml:"dsn"`
}

// Validate validates the state configuration.
func (c *StateConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DSN, validation.Required),
	)
}

// SQLiteConfig holds the path of the SQLite content and run index.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// MappingConfig holds property mapping rules. No rules selects
// mapper.DefaultRules.
type MappingConfig struct {
	Rules []mapper.Rule `yaml:"rules"`
}

// Validate validates the mapping rules.
func (c *MappingConfig) Validate() error {
	_, err := mapper.New(c.Effective())
	return err
}

// Effective returns the configured rules or the defaults.
func (c *MappingConfig) Effective() []mapper.Rule {
	if len(c.Rules) == 0 {
		return mapper.DefaultRules()
	}
	return c.Rules
}

// HugoConfig controls the optional site build and deploy after a pass
// that changed content.
type HugoConfig struct {
	Build         bool          `yaml:"build"`
	Binary        string        `yaml:"binary"`
	SiteDir       string        `yaml:"site_dir"`
	Args          []string      `yaml:"args"`
	Timeout       time.Duration `yaml:"timeout"`
	Deploy        bool          `yaml:"deploy"`
	DeployCommand []string      `yaml:"deploy_command"`
}

// Validate validates the Hugo configuration.
func (c *HugoConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SiteDir, validation.When(c.Build || c.Deploy, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NotionOptions builds the API client options.
func (c *Config) NotionOptions(logger *slog.Logger) notion.Options {
	filters := make(map[string]map[string]any)
	for _, t := range c.Targets {
		if len(t.Filter) > 0 {
			filters[t.DatabaseID] = t.Filter
		}
	}
	return notion.Options{
		BaseURL:    c.Notion.BaseURL,
		Token:      c.Notion.Token,
		APIVersion: c.Notion.APIVersion,
		Timeout:    c.Notion.Timeout,
		PageSize:   c.Notion.PageSize,
		MaxDepth:   c.Notion.MaxDepth,
		Retry:      c.Notion.Retry.Policy(),
		Filters:    filters,
		Logger:     logger,
	}
}

// ReconcilerTargets converts the configured targets.
func (c *Config) ReconcilerTargets() []reconciler.Target {
	out := make([]reconciler.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		out = append(out, reconciler.Target{DatabaseID: t.DatabaseID, Bucket: t.Bucket, DatePrefix: t.DatePrefix})
	}
	return out
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	policy := retry.DefaultPolicy()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFile{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Notion: NotionConfig{
			Timeout: 30 * time.Second,
			Retry: RetryConfig{
				MaxRetries: policy.MaxRetries,
				BaseDelay:  policy.BaseDelay,
				MaxDelay:   policy.MaxDelay,
				Jitter:     policy.Jitter,
			},
		},
		Content: ContentConfig{
			Dir: "./site/content",
		},
		Sync: SyncConfig{
			Mode:              detector.ModeIncremental,
			Concurrency:       4,
			MaxReportedErrors: 50,
			DriftDebounce:     2 * time.Second,
			Watch:             true,
		},
		State: StateConfig{
			DSN: "./pagesync-state.json",
		},
		SQLite: SQLiteConfig{
			Path: "./pagesync.db",
		},
		Hugo: HugoConfig{
			Binary:        "hugo",
			SiteDir:       "./site",
			Timeout:       5 * time.Minute,
			DeployCommand: []string{"hugo", "deploy"},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
