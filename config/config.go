// Package config loads middleman configuration from an optional YAML file
// and the environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	CDPURL   string         `yaml:"cdp_url"`
	Port     int            `yaml:"port"`
	Patterns string         `yaml:"patterns"`
	Denylist string         `yaml:"denylist"`
	History  string         `yaml:"history"`
	EnvFile  string         `yaml:"env_file"`
	Debug    bool           `yaml:"debug"`
	Pause    bool           `yaml:"pause"`
	Browser  BrowserConfig  `yaml:"browser"`
	Automate AutomateConfig `yaml:"automate"`
}

// BrowserConfig controls the tabs opened for sessions.
type BrowserConfig struct {
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	Stealth           *bool         `yaml:"stealth"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
}

// AutomateConfig bounds the automation loop.
type AutomateConfig struct {
	Tick    time.Duration `yaml:"tick"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load reads path (when non-empty), applies the environment and fills
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("CDP_URL"); v != "" {
		c.CDPURL = v
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Port = port
	}
	if v := getenv("MIDDLEMAN_PATTERNS"); v != "" {
		c.Patterns = v
	}
	if v := getenv("MIDDLEMAN_DENYLIST"); v != "" {
		c.Denylist = v
	}
	if v := getenv("MIDDLEMAN_HISTORY"); v != "" {
		c.History = v
	}
	if v := getenv("MIDDLEMAN_ENV"); v != "" {
		c.EnvFile = v
	}
	if getenv("MIDDLEMAN_DEBUG") != "" {
		c.Debug = true
	}
	if getenv("MIDDLEMAN_PAUSE") != "" {
		c.Pause = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CDPURL == "" {
		c.CDPURL = "http://127.0.0.1:9222"
	}
	c.CDPURL = strings.TrimRight(c.CDPURL, "/")
	if c.Port <= 0 {
		c.Port = 3000
	}
	if c.Patterns == "" {
		c.Patterns = "./patterns"
	}
	if c.Denylist == "" {
		c.Denylist = "denylist.txt"
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"media", "fonts"}
	}
	if c.Browser.Stealth == nil {
		on := true
		c.Browser.Stealth = &on
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.LookupTimeout <= 0 {
		c.Browser.LookupTimeout = 2 * time.Second
	}
	if c.Automate.Tick <= 0 {
		c.Automate.Tick = time.Second
	}
	if c.Automate.Timeout <= 0 {
		c.Automate.Timeout = 15 * time.Second
	}
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
