// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Runner() RunnerConfig
	Probe() ProbeConfig
	Action() ActionConfig
	Fallback() FallbackConfig
	Locators() LocatorsConfig
	Report() ReportConfig
	Store() StoreConfig

	SetBrowserHeadless(bool)
	SetRunnerMaxStepTime(d time.Duration)
	SetFallbackEnabled(bool)
	SetReportFormat(format string)
	SetReportOutput(path string)
	SetReportScreenshotDir(dir string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	RunnerCfg   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	ProbeCfg    ProbeConfig    `mapstructure:"probe" yaml:"probe"`
	ActionCfg   ActionConfig   `mapstructure:"action" yaml:"action"`
	FallbackCfg FallbackConfig `mapstructure:"fallback" yaml:"fallback"`
	LocatorsCfg LocatorsConfig `mapstructure:"locators" yaml:"locators"`
	ReportCfg   ReportConfig   `mapstructure:"report" yaml:"report"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Runner() RunnerConfig     { return c.RunnerCfg }
func (c *Config) Probe() ProbeConfig       { return c.ProbeCfg }
func (c *Config) Action() ActionConfig     { return c.ActionCfg }
func (c *Config) Fallback() FallbackConfig { return c.FallbackCfg }
func (c *Config) Locators() LocatorsConfig { return c.LocatorsCfg }
func (c *Config) Report() ReportConfig     { return c.ReportCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)             { c.BrowserCfg.Headless = b }
func (c *Config) SetRunnerMaxStepTime(d time.Duration) { c.RunnerCfg.MaxStepTime = d }
func (c *Config) SetFallbackEnabled(b bool)             { c.FallbackCfg.Enabled = b }
func (c *Config) SetReportFormat(format string)         { c.ReportCfg.Format = format }
func (c *Config) SetReportOutput(path string)           { c.ReportCfg.Output = path }
func (c *Config) SetReportScreenshotDir(dir string)     { c.ReportCfg.ScreenshotDir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the chromedp-driven browser.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// RunnerConfig governs the per-step envelope.
type RunnerConfig struct {
	MaxStepTime         time.Duration `mapstructure:"max_step_time" yaml:"max_step_time"`
	MaxAttempts         int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay           time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	StabilizationWait   time.Duration `mapstructure:"stabilization_wait" yaml:"stabilization_wait"`
	ScreenshotOnFailure bool          `mapstructure:"screenshot_on_failure" yaml:"screenshot_on_failure"`
}

// ProbeConfig tunes live candidate probing.
type ProbeConfig struct {
	CandidateTimeout time.Duration `mapstructure:"candidate_timeout" yaml:"candidate_timeout"`
}

// ActionConfig tunes the escalation ladders.
type ActionConfig struct {
	ClickTimeout   time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	FillTimeout    time.Duration `mapstructure:"fill_timeout" yaml:"fill_timeout"`
	ScrollTimeout  time.Duration `mapstructure:"scroll_timeout" yaml:"scroll_timeout"`
	VisibleTimeout time.Duration `mapstructure:"visible_timeout" yaml:"visible_timeout"`
	TypingDelayMin time.Duration `mapstructure:"typing_delay_min" yaml:"typing_delay_min"`
	TypingDelayMax time.Duration `mapstructure:"typing_delay_max" yaml:"typing_delay_max"`
}

// FallbackConfig configures the natural-language executor.
type FallbackConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxSnapshotItems  int           `mapstructure:"max_snapshot_items" yaml:"max_snapshot_items"`
}

// LocatorsConfig points at the known selector artifacts.
type LocatorsConfig struct {
	RegistryFile string `mapstructure:"registry_file" yaml:"registry_file"`
	SourcesDir   string `mapstructure:"sources_dir" yaml:"sources_dir"`
}

// ReportConfig controls run report output.
type ReportConfig struct {
	Format        string `mapstructure:"format" yaml:"format"`
	Output        string `mapstructure:"output" yaml:"output"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// StoreConfig enables PostgreSQL persistence when DSN is set.
type StoreConfig struct {
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1s")

	// -- Runner --
	v.SetDefault("runner.max_step_time", "30s")
	v.SetDefault("runner.max_attempts", 3)
	v.SetDefault("runner.base_delay", "250ms")
	v.SetDefault("runner.stabilization_wait", "300ms")
	v.SetDefault("runner.screenshot_on_failure", true)

	// -- Probe --
	v.SetDefault("probe.candidate_timeout", "750ms")

	// -- Action --
	v.SetDefault("action.click_timeout", "2s")
	v.SetDefault("action.fill_timeout", "5s")
	v.SetDefault("action.scroll_timeout", "2s")
	v.SetDefault("action.visible_timeout", "15s")
	v.SetDefault("action.typing_delay_min", "30ms")
	v.SetDefault("action.typing_delay_max", "120ms")

	// -- Fallback --
	v.SetDefault("fallback.enabled", false)
	v.SetDefault("fallback.model", "gemini-2.5-flash")
	v.SetDefault("fallback.timeout", "45s")
	v.SetDefault("fallback.requests_per_minute", 30)
	v.SetDefault("fallback.max_retries", 2)
	v.SetDefault("fallback.max_snapshot_items", 80)

	// -- Locators --
	v.SetDefault("locators.registry_file", "")
	v.SetDefault("locators.sources_dir", "locators")

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "stdout")
	v.SetDefault("report.screenshot_dir", "screenshots")

	// -- Store --
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.connect_timeout", "10s")
}

// NewConfigFromViper unmarshals, resolves secrets and paths, and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("fallback.api_key", "CARTPILOT_FALLBACK_API_KEY")
	_ = v.BindEnv("store.dsn", "CARTPILOT_STORE_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The Gemini SDK convention is honoured when no explicit key is given.
	if cfg.FallbackCfg.APIKey == "" {
		cfg.FallbackCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every path-valued setting.
func (c *Config) expandPaths() error {
	paths := []*string{
		&c.LoggerCfg.LogFile,
		&c.LocatorsCfg.RegistryFile,
		&c.LocatorsCfg.SourcesDir,
		&c.ReportCfg.ScreenshotDir,
		&c.BrowserCfg.ExecPath,
	}
	if c.ReportCfg.Output != "stdout" {
		paths = append(paths, &c.ReportCfg.Output)
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunnerCfg.MaxStepTime <= 0 {
		return fmt.Errorf("runner.max_step_time must be positive")
	}
	if c.RunnerCfg.MaxAttempts < 1 {
		return fmt.Errorf("runner.max_attempts must be at least 1")
	}
	if c.RunnerCfg.BaseDelay < 0 {
		return fmt.Errorf("runner.base_delay must not be negative")
	}
	if c.ProbeCfg.CandidateTimeout <= 0 {
		return fmt.Errorf("probe.candidate_timeout must be positive")
	}
	if c.ProbeCfg.CandidateTimeout >= c.RunnerCfg.MaxStepTime {
		return fmt.Errorf("probe.candidate_timeout must be shorter than runner.max_step_time")
	}
	if err := c.ActionCfg.Validate(); err != nil {
		return fmt.Errorf("action configuration invalid: %w", err)
	}
	if err := c.FallbackCfg.Validate(); err != nil {
		return fmt.Errorf("fallback configuration invalid: %w", err)
	}
	switch strings.ToLower(c.ReportCfg.Format) {
	case "json", "junit":
	default:
		return fmt.Errorf("report.format must be one of json, junit (got %q)", c.ReportCfg.Format)
	}
	return nil
}

// Validate checks the action ladder bounds.
func (a *ActionConfig) Validate() error {
	if a.ClickTimeout <= 0 || a.FillTimeout <= 0 || a.ScrollTimeout <= 0 {
		return fmt.Errorf("click_timeout, fill_timeout and scroll_timeout must be positive")
	}
	if a.VisibleTimeout <= 0 {
		return fmt.Errorf("visible_timeout must be positive")
	}
	if a.TypingDelayMin < 0 || a.TypingDelayMax < a.TypingDelayMin {
		return fmt.Errorf("typing delays must satisfy 0 <= typing_delay_min <= typing_delay_max")
	}
	return nil
}

// Validate checks the fallback executor settings.
func (f *FallbackConfig) Validate() error {
	if !f.Enabled {
		return nil
	}
	if f.Model == "" {
		return fmt.Errorf("model is required when the fallback is enabled")
	}
	if f.APIKey == "" {
		return fmt.Errorf("api_key (or GEMINI_API_KEY) is required when the fallback is enabled")
	}
	if f.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if f.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be positive")
	}
	return nil
}
