// Package config holds the server configuration. It is read from an
// optional yaml file and then overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/raphi011/allureboard/internal/cache"
	"github.com/raphi011/allureboard/internal/logging"
	"github.com/raphi011/allureboard/internal/model"
	"github.com/raphi011/allureboard/internal/watch"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ReportsPath is the base directory attachments are served from.
	ReportsPath string `yaml:"reportsPath"`
	// ResultsDir defaults to data/test-results below ReportsPath.
	ResultsDir       string `yaml:"resultsDir"`
	AttachmentPrefix string `yaml:"attachmentPrefix"`

	// TagMatch is the tag match mode used when a query does not name one.
	TagMatch model.TagMatchMode `yaml:"tagMatch"`

	Source   SourceConfig   `yaml:"source"`
	Database DatabaseConfig `yaml:"database"`
	Watch    WatchConfig    `yaml:"watch"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Log      LogConfig      `yaml:"log"`
}

type SourceConfig struct {
	Mode model.SourceMode `yaml:"mode"`
}

type DatabaseConfig struct {
	// Path of the sqlite file, empty for an in-memory database.
	Path string `yaml:"path"`
}

type WatchConfig struct {
	Enabled     bool          `yaml:"enabled"`
	SettleDelay time.Duration `yaml:"settleDelay"`
}

type RefreshConfig struct {
	// Schedule is an optional cron expression (with seconds) that
	// triggers a refresh.
	Schedule    string        `yaml:"schedule"`
	Timeout     time.Duration `yaml:"timeout"`
	ReadTimeout time.Duration `yaml:"readTimeout"`
	Parallelism int           `yaml:"parallelism"`
}

// DefaultIngestSchedule runs the ingest job every day at midnight.
const DefaultIngestSchedule = "0 0 0 * * *"

type IngestConfig struct {
	// Enabled schedules the ingest job inside the server.
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	// ResultsDir defaults to the ResultsDir of the server.
	ResultsDir string `yaml:"resultsDir"`
}

type HooksConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Elastic ElasticConfig `yaml:"elastic"`
}

type SlackConfig struct {
	Token        string `yaml:"token"`
	Channel      string `yaml:"channel"`
	DashboardURL string `yaml:"dashboardURL"`
}

func (c SlackConfig) Enabled() bool {
	return c.Token != ""
}

type ElasticConfig struct {
	Addresses []string `yaml:"addresses"`
	Index     string   `yaml:"index"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
}

func (c ElasticConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when neither a file nor flags
// override a value.
func Default() Config {
	return Config{
		Port:             1337,
		ReportsPath:      ".",
		AttachmentPrefix: cache.DefaultAttachmentPrefix,
		TagMatch:         model.TagMatchAll,
		Source:           SourceConfig{Mode: model.SourceModeFile},
		Watch:            WatchConfig{Enabled: true, SettleDelay: watch.DefaultSettleDelay},
		Refresh: RefreshConfig{
			Timeout:     cache.DefaultRefreshTimeout,
			ReadTimeout: cache.DefaultReadTimeout,
			Parallelism: runtime.GOMAXPROCS(0),
		},
		Ingest: IngestConfig{Schedule: DefaultIngestSchedule},
		Log:    LogConfig{Level: "info", Format: logging.FormatText},
	}
}

// Load reads the yaml file at path on top of the defaults. An empty path
// returns the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	c := Default()

	if path == "" {
		return c, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return c, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return c, nil
}

// EffectiveResultsDir returns the directory result files are read from.
func (c Config) EffectiveResultsDir() string {
	if c.ResultsDir != "" {
		return c.ResultsDir
	}

	return filepath.Join(c.ReportsPath, "data", "test-results")
}

// EffectiveIngestDir returns the directory the ingest job reads from.
func (c Config) EffectiveIngestDir() string {
	if c.Ingest.ResultsDir != "" {
		return c.Ingest.ResultsDir
	}

	return c.EffectiveResultsDir()
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate returns every problem of the configuration joined into one error.
func (c Config) Validate() error {
	errs := []error{}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	if strings.TrimSpace(c.ReportsPath) == "" {
		errs = append(errs, errors.New("reportsPath is required"))
	}

	switch c.Source.Mode {
	case model.SourceModeFile, model.SourceModeDatabase:
	default:
		errs = append(errs, fmt.Errorf("unknown source mode %q, expected %q or %q",
			c.Source.Mode, model.SourceModeFile, model.SourceModeDatabase))
	}

	if _, err := model.ParseTagMatchMode(string(c.TagMatch)); err != nil {
		errs = append(errs, fmt.Errorf("tagMatch: %w", err))
	}

	if c.Watch.SettleDelay < 0 {
		errs = append(errs, errors.New("watch.settleDelay must not be negative"))
	}

	if c.Refresh.Timeout <= 0 {
		errs = append(errs, errors.New("refresh.timeout must be positive"))
	}
	if c.Refresh.ReadTimeout <= 0 {
		errs = append(errs, errors.New("refresh.readTimeout must be positive"))
	}
	if c.Refresh.Parallelism < 1 {
		errs = append(errs, errors.New("refresh.parallelism must be at least 1"))
	}

	if c.Refresh.Schedule != "" {
		if _, err := cronParser.Parse(c.Refresh.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("refresh.schedule: %w", err))
		}
	}

	if c.Ingest.Enabled {
		if _, err := cronParser.Parse(c.Ingest.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("ingest.schedule: %w", err))
		}
	}

	if c.Hooks.Slack.Enabled() && c.Hooks.Slack.Channel == "" {
		errs = append(errs, errors.New("hooks.slack.channel is required when a token is set"))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	switch c.Log.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
