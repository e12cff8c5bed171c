// Package config loads sitecrawl settings from a YAML file. Command-line
// flags are applied on top by the CLI before Validate is called.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/v0xg/sitecrawl/internal/crawler"
)

// AppName names the XDG config directory.
const AppName = "sitecrawl"

// Drivers.
const (
	DriverRod  = "rod"
	DriverHTTP = "http"
)

// Defaults applied to fields left empty.
const (
	DefaultLoadTimeout   = 30 * time.Second
	DefaultActionTimeout = 5 * time.Second
	DefaultHiddenWait    = time.Second
	DefaultSettleDelay   = 250 * time.Millisecond
	DefaultMaxFrames     = 12
	DefaultFrameWidth    = 800
)

// Config is the top-level sitecrawl configuration.
type Config struct {
	BaseURL         string           `yaml:"base_url"`
	Start           string           `yaml:"start"`
	Seeds           []string         `yaml:"seeds"`
	Exclude         []string         `yaml:"exclude"`
	MaxRoutes       int              `yaml:"max_routes"`
	TextLiteral     string           `yaml:"text_literal"`
	SkipAttribute   string           `yaml:"skip_attribute"`
	CustomAttribute string           `yaml:"custom_attribute"`
	Timeouts        TimeoutConfig    `yaml:"timeouts"`
	Parallel        int              `yaml:"parallel"`
	Driver          string           `yaml:"driver"` // rod | http
	Browser         BrowserConfig    `yaml:"browser"`
	HTTP            HTTPConfig       `yaml:"http"`
	Identities      []IdentityConfig `yaml:"identities"`
	Report          ReportConfig     `yaml:"report"`
	Evidence        EvidenceConfig   `yaml:"evidence"`
	Metrics         MetricsConfig    `yaml:"metrics"`
	Triage          TriageConfig     `yaml:"triage"`
}

// TimeoutConfig bounds every wait of a session.
type TimeoutConfig struct {
	Load   time.Duration `yaml:"load"`
	Action time.Duration `yaml:"action"`
	Hidden time.Duration `yaml:"hidden"` // visibility wait for controls hidden at classification
	Settle time.Duration `yaml:"settle"`
}

// BrowserConfig controls the Chrome process used by the rod driver.
type BrowserConfig struct {
	Remote           string `yaml:"remote"`
	Bin              string `yaml:"bin"`
	Headful          bool   `yaml:"headful"`
	Stealth          bool   `yaml:"stealth"`
	IgnoreCertErrors bool   `yaml:"ignore_cert_errors"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
}

// HTTPConfig controls the JavaScript-free driver.
type HTTPConfig struct {
	UserAgent    string `yaml:"user_agent"`
	Subresources *bool  `yaml:"subresources"` // default true
	MaxBody      int64  `yaml:"max_body"`
}

// FetchSubresources reports whether scripts, stylesheets and images are
// fetched after each load.
func (h HTTPConfig) FetchSubresources() bool {
	return h.Subresources == nil || *h.Subresources
}

// IdentityConfig is one simulated user.
type IdentityConfig struct {
	Name         string            `yaml:"name"`
	Cookies      []CookieConfig    `yaml:"cookies"`
	LocalStorage map[string]string `yaml:"local_storage"`
	Headers      map[string]string `yaml:"headers"`
}

// CookieConfig is a cookie set on the base origin.
type CookieConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
	Path  string `yaml:"path"`
}

// ReportConfig names the report files to write. Empty = not written.
type ReportConfig struct {
	JSON     string `yaml:"json"`
	Markdown string `yaml:"markdown"`
}

// EvidenceConfig enables GIF replays of routes that produced anomalies.
// Only the rod driver can take screenshots.
type EvidenceConfig struct {
	Dir       string `yaml:"dir"` // empty = disabled
	MaxFrames int    `yaml:"max_frames"`
	Width     int    `yaml:"width"`
}

// MetricsConfig names the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// TriageConfig enables an LLM summary of the finished report.
type TriageConfig struct {
	Provider string `yaml:"provider"` // empty = disabled
	Model    string `yaml:"model"`
}

// Default returns a configuration with every default applied and no base URL.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath is $XDG_CONFIG_HOME/sitecrawl/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Load reads the file at path. An empty path means DefaultPath, and a
// missing default file yields the defaults; a missing explicit file is
// ErrConfigNotFound.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	cfg, err := LoadFile(path)
	if errors.Is(err, ErrConfigNotFound) && !explicit {
		return Default(), nil
	}
	return cfg, err
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Start == "" {
		c.Start = "/"
	}
	if c.TextLiteral == "" {
		c.TextLiteral = crawler.DefaultTextLiteral
	}
	if c.SkipAttribute == "" {
		c.SkipAttribute = crawler.DefaultSkipAttribute
	}
	if c.CustomAttribute == "" {
		c.CustomAttribute = crawler.DefaultCustomAttribute
	}
	if c.Timeouts.Load == 0 {
		c.Timeouts.Load = DefaultLoadTimeout
	}
	if c.Timeouts.Action == 0 {
		c.Timeouts.Action = DefaultActionTimeout
	}
	if c.Timeouts.Hidden == 0 {
		c.Timeouts.Hidden = DefaultHiddenWait
	}
	if c.Timeouts.Settle == 0 {
		c.Timeouts.Settle = DefaultSettleDelay
	}
	if c.Parallel == 0 {
		c.Parallel = 1
	}
	if c.Driver == "" {
		c.Driver = DriverRod
	}
	if c.Evidence.MaxFrames == 0 {
		c.Evidence.MaxFrames = DefaultMaxFrames
	}
	if c.Evidence.Width == 0 {
		c.Evidence.Width = DefaultFrameWidth
	}
}

// Validate checks the configuration. It returns the first problem found,
// wrapping one of the package's sentinel errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if _, err := c.ParseBaseURL(); err != nil {
		return err
	}
	for _, r := range append([]string{c.Start}, c.Seeds...) {
		if !strings.HasPrefix(r, "/") {
			return fmt.Errorf("%w: %q", ErrInvalidRoute, r)
		}
	}
	for _, p := range c.Exclude {
		if _, err := path.Match(p, "/"); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidExclude, p)
		}
	}
	if c.MaxRoutes < 0 {
		return ErrInvalidMaxRoutes
	}
	if c.Timeouts.Load < 0 || c.Timeouts.Action < 0 || c.Timeouts.Hidden < 0 || c.Timeouts.Settle < 0 {
		return ErrInvalidTimeout
	}
	if c.Parallel < 1 {
		return ErrInvalidParallel
	}
	switch c.Driver {
	case DriverRod, DriverHTTP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	if c.Browser.Width < 0 || c.Browser.Height < 0 {
		return ErrInvalidViewport
	}
	seen := make(map[string]bool, len(c.Identities))
	for _, id := range c.Identities {
		if id.Name == "" {
			return ErrUnnamedIdentity
		}
		if seen[id.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateIdentity, id.Name)
		}
		seen[id.Name] = true
	}
	if c.Evidence.MaxFrames < 0 || c.Evidence.Width < 0 {
		return ErrInvalidEvidence
	}
	switch strings.ToLower(c.Triage.Provider) {
	case "", "claude", "anthropic", "openai", "gpt":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Triage.Provider)
	}
	return nil
}

// ParseBaseURL parses BaseURL and requires an absolute http(s) URL.
func (c *Config) ParseBaseURL() (*url.URL, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.BaseURL)
	}
	return u, nil
}

// CrawlerOptions converts the configuration into session options. Logger and
// listeners are left for the caller.
func (c *Config) CrawlerOptions() (crawler.Options, error) {
	base, err := c.ParseBaseURL()
	if err != nil {
		return crawler.Options{}, err
	}
	start, err := crawler.NormalizePath(c.Start)
	if err != nil {
		return crawler.Options{}, err
	}
	seeds := make([]crawler.RoutePath, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		r, err := crawler.NormalizePath(s)
		if err != nil {
			return crawler.Options{}, err
		}
		seeds = append(seeds, r)
	}
	return crawler.Options{
		BaseURL:         base,
		Start:           start,
		Seeds:           seeds,
		Exclude:         c.Exclude,
		MaxRoutes:       c.MaxRoutes,
		TextLiteral:     c.TextLiteral,
		SkipAttribute:   c.SkipAttribute,
		CustomAttribute: c.CustomAttribute,
		LoadTimeout:     c.Timeouts.Load,
		ActionTimeout:   c.Timeouts.Action,
		HiddenWait:      c.Timeouts.Hidden,
		SettleDelay:     c.Timeouts.Settle,
		Parallel:        c.Parallel,
	}, nil
}

// CrawlIdentities returns the configured identities, or only the anonymous
// one when none are configured.
func (c *Config) CrawlIdentities() []crawler.Identity {
	if len(c.Identities) == 0 {
		return []crawler.Identity{crawler.Anonymous()}
	}
	out := make([]crawler.Identity, 0, len(c.Identities))
	for _, ic := range c.Identities {
		id := crawler.Identity{
			Name:         ic.Name,
			LocalStorage: ic.LocalStorage,
			Headers:      ic.Headers,
		}
		for _, ck := range ic.Cookies {
			id.Cookies = append(id.Cookies, crawler.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path})
		}
		out = append(out, id)
	}
	return out
}

// SelectIdentities keeps only the named identities, in configuration order.
// An unknown name is an error.
func (c *Config) SelectIdentities(names []string) ([]crawler.Identity, error) {
	all := c.CrawlIdentities()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]crawler.Identity, len(all))
	for _, id := range all {
		byName[id.Name] = id
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := byName[n]; !ok {
			return nil, fmt.Errorf("config: unknown identity %q", n)
		}
		want[n] = true
	}
	var out []crawler.Identity
	for _, id := range all {
		if want[id.Name] {
			out = append(out, id)
		}
	}
	return out, nil
}
