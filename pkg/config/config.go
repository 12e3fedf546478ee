// Package config loads the optional YAML file shared by the api and worker.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/unifyos/unify/pkg/credentials"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultActionTimeout   = 30 * time.Second
	DefaultDedupWindow     = 5 * time.Minute
	DefaultDedupCapacity   = 10000
	DefaultScheduleRefresh = 30 * time.Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the file form. Zero values fall back to the defaults above and
// command line flags override whatever the file sets.
type Config struct {
	Engine      EngineConfig             `yaml:"engine"`
	Slack       SlackConfig              `yaml:"slack"`
	Normalizers map[string]ingest.JQRule `yaml:"normalizers"`

	// Connections seed the in-memory credential store of a memory:// database.
	Connections []Connection `yaml:"connections"`
}

type Connection struct {
	UserID      string `yaml:"user_id"`
	App         string `yaml:"app"`
	AccessToken string `yaml:"access_token"`
	AccountID   string `yaml:"account_id"`
}

type EngineConfig struct {
	ActionTimeout   time.Duration `yaml:"action_timeout"`
	DedupWindow     time.Duration `yaml:"dedup_window"`
	DedupCapacity   int           `yaml:"dedup_capacity"`
	ScheduleRefresh time.Duration `yaml:"schedule_refresh"`
}

type SlackConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns a config holding every default.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			ActionTimeout:   DefaultActionTimeout,
			DedupWindow:     DefaultDedupWindow,
			DedupCapacity:   DefaultDedupCapacity,
			ScheduleRefresh: DefaultScheduleRefresh,
		},
		Normalizers: map[string]ingest.JQRule{},
	}
}

// Load reads path. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML and fills defaults. Normalizer rules are compiled so a
// broken jq expression fails at startup.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	err := yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.applyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.ActionTimeout == 0 {
		c.Engine.ActionTimeout = DefaultActionTimeout
	}

	if c.Engine.DedupWindow == 0 {
		c.Engine.DedupWindow = DefaultDedupWindow
	}

	if c.Engine.DedupCapacity == 0 {
		c.Engine.DedupCapacity = DefaultDedupCapacity
	}

	if c.Engine.ScheduleRefresh == 0 {
		c.Engine.ScheduleRefresh = DefaultScheduleRefresh
	}

	if c.Normalizers == nil {
		c.Normalizers = map[string]ingest.JQRule{}
	}
}

func (c *Config) Validate() error {
	if c.Engine.ActionTimeout < 0 || c.Engine.DedupWindow < 0 || c.Engine.ScheduleRefresh < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}

	if c.Engine.DedupCapacity < 0 {
		return fmt.Errorf("%w: dedup_capacity must be positive", ErrInvalidConfig)
	}

	for i, conn := range c.Connections {
		if conn.UserID == "" || conn.App == "" {
			return fmt.Errorf("%w: connections[%d] needs user_id and app", ErrInvalidConfig, i)
		}
	}

	for app := range c.Normalizers {
		_, err := c.Normalizer(app)
		if err != nil {
			return err
		}
	}

	return nil
}

// Normalizer compiles the jq rule configured for app.
func (c *Config) Normalizer(app string) (*ingest.JQNormalizer, error) {
	rule, ok := c.Normalizers[app]
	if !ok {
		return nil, fmt.Errorf("%w: no normalizer for %s", ErrInvalidConfig, app)
	}

	normalizer, err := ingest.NewJQNormalizer(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: normalizer %s: %w", ErrInvalidConfig, app, err)
	}

	return normalizer, nil
}

// Seed connects every configured token on store.
func (c *Config) Seed(store *credentials.MemoryStore) {
	for _, conn := range c.Connections {
		store.Connect(models.Token{
			UserID:            conn.UserID,
			App:               conn.App,
			AccessToken:       conn.AccessToken,
			ExternalAccountID: conn.AccountID,
		})
	}
}

// RegisterNormalizers installs every configured jq normalizer on ingestor.
func (c *Config) RegisterNormalizers(ingestor *ingest.Ingestor) error {
	for app := range c.Normalizers {
		normalizer, err := c.Normalizer(app)
		if err != nil {
			return err
		}

		ingestor.RegisterNormalizer(app, normalizer)
	}

	return nil
}
