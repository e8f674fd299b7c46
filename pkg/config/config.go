// Package config loads strat's YAML configuration, applies environment
// overrides and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"strat/pkg/protocol"
)

// FileName is the config file inside the strat home directory.
const FileName = "config.yaml"

// Ports holds the three well-known ports.
type Ports struct {
	Discovery int `yaml:"discovery" env:"STRAT_DISCOVERY_PORT"`
	Input     int `yaml:"input" env:"STRAT_INPUT_PORT"`
	Sync      int `yaml:"sync" env:"STRAT_SYNC_PORT"`
}

// Timeouts holds network timings. Values are YAML durations ("750ms", "2s").
type Timeouts struct {
	Send             time.Duration `yaml:"send"`
	Discovery        time.Duration `yaml:"discovery"`
	Probe            time.Duration `yaml:"probe"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// Clock configures the game clock.
type Clock struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	Workers      int           `yaml:"workers"`
	Speed        float64       `yaml:"speed"`
}

// Jobs holds built-in job periods in session seconds.
type Jobs struct {
	AutosavePeriod   int64   `yaml:"autosave_period"`
	ScoringPeriod    int64   `yaml:"scoring_period"`
	MultiplierPeriod int64   `yaml:"multiplier_period"`
	GrowthFactor     float64 `yaml:"growth_factor"`
}

// Scoring holds the timed scoring rule constants.
type Scoring struct {
	Pool     float64 `yaml:"pool"`
	TopBonus float64 `yaml:"top_bonus"`
	TopN     int     `yaml:"top_n"`
}

// Config is the full configuration.
type Config struct {
	// Host is the address of the HOST node used by slaves.
	Host     string   `yaml:"host" env:"STRAT_HOST"`
	Session  string   `yaml:"session"`
	Template string   `yaml:"template"`
	DataDir  string   `yaml:"data_dir" env:"STRAT_DATA_DIR"`
	DBPath   string   `yaml:"db_path" env:"STRAT_DB_PATH"`
	Ports    Ports    `yaml:"ports"`
	Timeouts Timeouts `yaml:"timeouts"`
	Clock    Clock    `yaml:"clock"`
	Jobs     Jobs     `yaml:"jobs"`
	Scoring  Scoring  `yaml:"scoring"`

	// Path is the file the config was loaded from; empty for defaults.
	Path string `yaml:"-"`
}

// Default returns the built-in configuration rooted at home.
func Default(home string) *Config {
	c := &Config{}
	c.withDefaults(home)
	return c
}

func (c *Config) withDefaults(home string) {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Session == "" {
		c.Session = "game"
	}
	if c.DataDir == "" {
		c.DataDir = home
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(home, "events.db")
	}
	if c.Ports.Discovery == 0 {
		c.Ports.Discovery = protocol.DiscoveryPort
	}
	if c.Ports.Input == 0 {
		c.Ports.Input = protocol.InputPort
	}
	if c.Ports.Sync == 0 {
		c.Ports.Sync = protocol.SyncPort
	}
	if c.Timeouts.Send == 0 {
		c.Timeouts.Send = protocol.DefaultSendTimeout
	}
	if c.Timeouts.Discovery == 0 {
		c.Timeouts.Discovery = protocol.DefaultDiscoveryTimeout
	}
	if c.Timeouts.Probe == 0 {
		c.Timeouts.Probe = protocol.DefaultProbeTimeout
	}
	if c.Timeouts.ReconnectBackoff == 0 {
		c.Timeouts.ReconnectBackoff = protocol.DefaultReconnectBackoff
	}
	if c.Clock.TickInterval == 0 {
		c.Clock.TickInterval = protocol.DefaultTickInterval
	}
	if c.Clock.Speed == 0 {
		c.Clock.Speed = 1
	}
	if c.Jobs.AutosavePeriod == 0 {
		c.Jobs.AutosavePeriod = 600
	}
	if c.Jobs.ScoringPeriod == 0 {
		c.Jobs.ScoringPeriod = 10
	}
	if c.Jobs.MultiplierPeriod == 0 {
		c.Jobs.MultiplierPeriod = 600
	}
	if c.Jobs.GrowthFactor == 0 {
		c.Jobs.GrowthFactor = 1.05
	}
	if c.Scoring.Pool == 0 {
		c.Scoring.Pool = 20
	}
	if c.Scoring.TopBonus == 0 {
		c.Scoring.TopBonus = 5
	}
	if c.Scoring.TopN == 0 {
		c.Scoring.TopN = 3
	}
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	for name, p := range map[string]int{
		"ports.discovery": c.Ports.Discovery,
		"ports.input":     c.Ports.Input,
		"ports.sync":      c.Ports.Sync,
	} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%s: port %d out of range", name, p)
		}
	}
	if c.Clock.Speed <= 0 {
		return fmt.Errorf("clock.speed: must be positive, got %v", c.Clock.Speed)
	}
	if c.Clock.TickInterval < 0 || c.Clock.Workers < 0 {
		return errors.New("clock: tick_interval and workers must not be negative")
	}
	if c.Jobs.AutosavePeriod < 0 || c.Jobs.ScoringPeriod < 0 || c.Jobs.MultiplierPeriod < 0 {
		return errors.New("jobs: periods must not be negative")
	}
	if c.Jobs.GrowthFactor < 0 {
		return fmt.Errorf("jobs.growth_factor: must not be negative, got %v", c.Jobs.GrowthFactor)
	}
	return nil
}

// Home returns the strat home directory from STRAT_HOME or ~/.strat.
func Home() (string, error) {
	if v := os.Getenv("STRAT_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.StratDir), nil
}

// DefaultPath returns $STRAT_HOME/config.yaml.
func DefaultPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

// Load reads path, fills defaults and applies environment overrides. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		c.Path = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.withDefaults(home)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Write stores c as YAML at path, creating the directory.
func Write(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// applyEnv applies the STRAT_* overrides declared in the env tags.
// Unset or empty variables leave the file value in place.
func (c *Config) applyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ListenAddr returns ":<port>" for a local listener.
func ListenAddr(port int) string { return ":" + strconv.Itoa(port) }

// HostAddr joins the configured host with port.
func (c *Config) HostAddr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}
