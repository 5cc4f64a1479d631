// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawl     CrawlConfig    `mapstructure:"crawl"`
	Resources ResourceConfig `mapstructure:"resources"`
	Browser   BrowserConfig  `mapstructure:"browser"`
	Ops       OpsConfig      `mapstructure:"ops"`
	Logging   LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs scheduling and per-page budgets.
type CrawlConfig struct {
	// DomainDelaySec is the cooldown between successive requests to the
	// same host, applied on every outcome.
	DomainDelaySec float64 `mapstructure:"domain_delay_sec"`
	// PageTimeoutSec bounds a single navigation.
	PageTimeoutSec float64 `mapstructure:"page_timeout_sec"`
	// URLFile and Output are defaults overridable per run via flags.
	URLFile string `mapstructure:"url_file"`
	Output  string `mapstructure:"output"`
}

// ResourceConfig sets the admission gate thresholds. The memory percentage
// threshold is deliberately a tunable, not a fixed contract.
type ResourceConfig struct {
	CPUThreshold     float64 `mapstructure:"cpu_threshold"`
	MemThreshold     float64 `mapstructure:"mem_threshold"`
	MinMemAvailMB    float64 `mapstructure:"min_mem_avail_mb"`
	SampleIntervalMS int     `mapstructure:"sample_interval_ms"`
	AdmitRetrySec    float64 `mapstructure:"admit_retry_sec"`
}

// BrowserConfig sizes the instance pool and its restart policy.
type BrowserConfig struct {
	PoolSize               int    `mapstructure:"pool_size"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures"`
	UserAgent              string `mapstructure:"user_agent"`
	SettleDelayMS          int    `mapstructure:"settle_delay_ms"`
}

// OpsConfig toggles the status/metrics HTTP endpoint.
type OpsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig controls zap output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RENDERCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.domain_delay_sec", 60.0)
	v.SetDefault("crawl.page_timeout_sec", 60.0)
	v.SetDefault("crawl.url_file", "urls.txt")
	v.SetDefault("crawl.output", "crawl_results.json")
	v.SetDefault("resources.cpu_threshold", 80.0)
	v.SetDefault("resources.mem_threshold", 80.0)
	v.SetDefault("resources.min_mem_avail_mb", 512.0)
	v.SetDefault("resources.sample_interval_ms", 1000)
	v.SetDefault("resources.admit_retry_sec", 5.0)
	v.SetDefault("browser.pool_size", 4)
	v.SetDefault("browser.max_consecutive_failures", 3)
	v.SetDefault("browser.user_agent", "rendercrawl/0.1")
	v.SetDefault("browser.settle_delay_ms", 500)
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.DomainDelaySec < 0 {
		return fmt.Errorf("crawl.domain_delay_sec must be >= 0")
	}
	if c.Crawl.PageTimeoutSec <= 0 {
		return fmt.Errorf("crawl.page_timeout_sec must be > 0")
	}
	if c.Resources.CPUThreshold <= 0 || c.Resources.CPUThreshold > 100 {
		return fmt.Errorf("resources.cpu_threshold must be in (0, 100]")
	}
	if c.Resources.MemThreshold <= 0 || c.Resources.MemThreshold > 100 {
		return fmt.Errorf("resources.mem_threshold must be in (0, 100]")
	}
	if c.Resources.MinMemAvailMB < 0 {
		return fmt.Errorf("resources.min_mem_avail_mb must be >= 0")
	}
	if c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0")
	}
	if c.Browser.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("browser.max_consecutive_failures must be > 0")
	}
	if c.Ops.Enabled && c.Ops.Port <= 0 {
		return fmt.Errorf("ops.port must be > 0 when ops server is enabled")
	}
	return nil
}

// DomainDelay returns the per-domain cooldown as a duration.
func (c Config) DomainDelay() time.Duration {
	return time.Duration(c.Crawl.DomainDelaySec * float64(time.Second))
}

// PageTimeout returns the navigation budget as a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Crawl.PageTimeoutSec * float64(time.Second))
}

// SampleInterval returns the resource sampling throttle window.
func (c Config) SampleInterval() time.Duration {
	return time.Duration(c.Resources.SampleIntervalMS) * time.Millisecond
}

// AdmitRetry returns how long dispatch pauses after an admission denial.
func (c Config) AdmitRetry() time.Duration {
	return time.Duration(c.Resources.AdmitRetrySec * float64(time.Second))
}

// SettleDelay returns the post-load settle wait for the renderer.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Browser.SettleDelayMS) * time.Millisecond
}
