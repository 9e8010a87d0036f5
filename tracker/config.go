// Package tracker owns the session: it receives snapshot events, advances
// the interval cache, answers summary and status queries, and renders
// exports. Every transport funnels into one Tracker.
package tracker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/ghostwatch/ia"
)

// Config is the daemon configuration.
type Config struct {
	// DBPath is the session database file.
	DBPath string `yaml:"db_path"`
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// Remote is the DevTools URL of the editor to observe. Empty disables
	// browser attachment.
	Remote string `yaml:"remote"`

	// WindowOffset is added to every shape's vertical position, bridging
	// viewport and screen coordinates. nil means the default 91; an explicit
	// 0 is honored.
	WindowOffset *float64 `yaml:"window_offset"`
	// ExportMarginH and ExportMarginV widen exported rectangles. The live
	// summary always uses zero margins.
	ExportMarginH float64 `yaml:"export_margin_h"`
	ExportMarginV float64 `yaml:"export_margin_v"`
	// OriginOffsetMs shifts the session origin before the marker timestamp.
	OriginOffsetMs int64 `yaml:"origin_offset_ms"`

	// UpdateInterval paces the periodic cache advance.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// DedupeWindow drops a snapshot repeating the previous signature from
	// the same sender within this window.
	DedupeWindow time.Duration `yaml:"dedupe_window"`
	// SummaryCap bounds the summary record count.
	SummaryCap int `yaml:"summary_cap"`
	// CheckCap bounds the retained acceptance-check diagnostics.
	CheckCap int `yaml:"check_cap"`

	// Selectors matches ghost-text elements in the observed editor.
	Selectors string `yaml:"selectors"`
	// PollInterval paces the browser-side snapshot poll.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultWindowOffset matches a maximized editor window's chrome height.
const DefaultWindowOffset = 91.0

const defaultSelectors = ".ghost-text-decoration, .ghost-text, .ghost-text-decoration-preview"

// LoadConfig reads a YAML configuration file and applies defaults. An empty
// path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("tracker: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("tracker: parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "ghostwatch.db"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8632"
	}
	if c.WindowOffset == nil {
		off := DefaultWindowOffset
		c.WindowOffset = &off
	}
	if *c.WindowOffset < 0 {
		*c.WindowOffset = 0
	}
	if c.ExportMarginH == 0 {
		c.ExportMarginH = 44
	}
	if c.ExportMarginH < 0 {
		c.ExportMarginH = 0
	}
	if c.ExportMarginV == 0 {
		c.ExportMarginV = 22
	}
	if c.ExportMarginV < 0 {
		c.ExportMarginV = 0
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 15 * time.Second
	}
	if c.DedupeWindow <= 0 {
		c.DedupeWindow = 500 * time.Millisecond
	}
	if c.SummaryCap <= 0 {
		c.SummaryCap = 200
	}
	if c.CheckCap <= 0 {
		c.CheckCap = ia.DefaultCheckCap
	}
	if c.Selectors == "" {
		c.Selectors = defaultSelectors
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// liveAggregatorConfig is the aggregation config for the live cache: real
// window offset, no margins.
func (c Config) liveAggregatorConfig() ia.Config {
	return ia.Config{
		WindowOffset:   *c.WindowOffset,
		OriginOffsetMs: c.OriginOffsetMs,
	}
}

// exportAggregatorConfig widens rectangles by the export margins.
func (c Config) exportAggregatorConfig() ia.Config {
	return ia.Config{
		WindowOffset:   *c.WindowOffset,
		MarginH:        c.ExportMarginH,
		MarginV:        c.ExportMarginV,
		OriginOffsetMs: c.OriginOffsetMs,
	}
}

// Settings is the runtime-adjustable subset of Config, applied on a
// settings_updated message without restarting the daemon.
type Settings struct {
	WindowOffset   *float64       `json:"window_offset,omitempty" yaml:"window_offset,omitempty"`
	ExportMarginH  *float64       `json:"export_margin_h,omitempty" yaml:"export_margin_h,omitempty"`
	ExportMarginV  *float64       `json:"export_margin_v,omitempty" yaml:"export_margin_v,omitempty"`
	DedupeWindow   *time.Duration `json:"dedupe_window,omitempty" yaml:"dedupe_window,omitempty"`
	SummaryCap     *int           `json:"summary_cap,omitempty" yaml:"summary_cap,omitempty"`
	UpdateInterval *time.Duration `json:"update_interval,omitempty" yaml:"update_interval,omitempty"`
}
