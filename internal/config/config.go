package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources   Sources   `yaml:"sources"`
	Scoring   Scoring   `yaml:"scoring"`
	Monitor   Monitor   `yaml:"monitor"`
	Broadcast Broadcast `yaml:"broadcast"`
	Fetch     Fetch     `yaml:"fetch"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Sources struct {
	Feeds []Feed `yaml:"feeds"`
}

// Feed types understood by the collector.
const (
	FeedRSS    = "rss"
	FeedJSON   = "json"
	FeedCVEXML = "cve_xml"
)

type Feed struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Type    string `yaml:"type"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the feed should be fetched. Feeds are enabled
// unless explicitly turned off.
func (f Feed) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Kind returns the feed type, defaulting to rss.
func (f Feed) Kind() string {
	if f.Type == "" {
		return FeedRSS
	}
	return f.Type
}

type Scoring struct {
	TablesPath          string  `yaml:"tables_path"`
	RelevanceThreshold  float64 `yaml:"relevance_threshold"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	CategoryClusterMin  int     `yaml:"category_cluster_min"`
	AlertPriority       float64 `yaml:"alert_priority"`
	CriticalSeverity    float64 `yaml:"critical_severity"`
}

type Monitor struct {
	SeenCapacity int           `yaml:"seen_capacity"`
	Interval     time.Duration `yaml:"interval"`
	Schedule     string        `yaml:"schedule"`
}

// CronSpec returns the cron expression for watch mode. An empty Schedule
// falls back to running every Interval.
func (m Monitor) CronSpec() string {
	if m.Schedule != "" {
		return m.Schedule
	}
	interval := m.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return "@every " + interval.String()
}

// Broadcast modes.
const (
	BroadcastNone  = "none"
	BroadcastRedis = "redis"
)

type Broadcast struct {
	Mode  string `yaml:"mode"`
	Redis Redis  `yaml:"redis"`
}

type Redis struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type Fetch struct {
	Timeout        time.Duration `yaml:"timeout"`
	MinDescription int           `yaml:"min_description"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for threatwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "threatwatch")
}

// DataDir returns the XDG data directory for threatwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "threatwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/threatwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'threatwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Scoring: Scoring{
			RelevanceThreshold:  0.3,
			SimilarityThreshold: 0.6,
			CategoryClusterMin:  3,
			AlertPriority:       0.6,
			CriticalSeverity:    0.8,
		},
		Monitor: Monitor{
			SeenCapacity: 10000,
			Interval:     5 * time.Minute,
		},
		Broadcast: Broadcast{
			Mode: BroadcastNone,
			Redis: Redis{
				Addr:          "localhost:6379",
				ChannelPrefix: "threatwatch",
			},
		},
		Fetch: Fetch{
			Timeout:        20 * time.Second,
			MinDescription: 200,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for _, f := range c.Sources.Feeds {
		switch f.Kind() {
		case FeedRSS, FeedJSON, FeedCVEXML:
		default:
			return fmt.Errorf("feed %q: unknown type %q", f.Name, f.Type)
		}
	}
	switch c.Broadcast.Mode {
	case BroadcastNone, BroadcastRedis:
	default:
		return fmt.Errorf("broadcast: unknown mode %q", c.Broadcast.Mode)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
