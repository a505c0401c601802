// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "cartpilot", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 30*time.Second, cfg.Runner().MaxStepTime)
	assert.Equal(t, 3, cfg.Runner().MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Runner().BaseDelay)
	assert.Equal(t, 750*time.Millisecond, cfg.Probe().CandidateTimeout)
	assert.Equal(t, 15*time.Second, cfg.Action().VisibleTimeout)
	assert.False(t, cfg.Fallback().Enabled)
	assert.Equal(t, "json", cfg.Report().Format)
	assert.Empty(t, cfg.Store().DSN)

	require.NoError(t, cfg.Validate(), "defaults must validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Runner Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()

		invalid := *cfg
		invalid.RunnerCfg.MaxStepTime = 0
		err := invalid.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner.max_step_time must be positive")

		invalid = *cfg
		invalid.RunnerCfg.MaxAttempts = 0
		err = invalid.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "runner.max_attempts must be at least 1")
	})

	t.Run("Probe Must Fit Inside Step", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.ProbeCfg.CandidateTimeout = cfg.RunnerCfg.MaxStepTime
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probe.candidate_timeout must be shorter")
	})

	t.Run("Action Validation", func(t *testing.T) {
		a := NewDefaultConfig().ActionCfg
		require.NoError(t, a.Validate())

		a.TypingDelayMax = a.TypingDelayMin - time.Millisecond
		assert.Error(t, a.Validate())
	})

	t.Run("Fallback Validation", func(t *testing.T) {
		f := FallbackConfig{Enabled: false}
		assert.NoError(t, f.Validate(), "disabled fallback needs no settings")

		f = FallbackConfig{Enabled: true, Model: "gemini-2.5-flash", Timeout: time.Second, RequestsPerMinute: 10}
		err := f.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")

		f.APIKey = "key"
		assert.NoError(t, f.Validate())
	})

	t.Run("Report Format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.SetReportFormat("sarif")
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "report.format")

		cfg.SetReportFormat("junit")
		assert.NoError(t, cfg.Validate())
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
runner:
  max_step_time: 10s
  base_delay: 100ms
probe:
  candidate_timeout: 500ms
action:
  click_timeout: 1s
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Second, cfg.Runner().MaxStepTime)
		assert.Equal(t, 100*time.Millisecond, cfg.Runner().BaseDelay)
		assert.Equal(t, 500*time.Millisecond, cfg.Probe().CandidateTimeout)
		assert.Equal(t, time.Second, cfg.Action().ClickTimeout)
		// Defaults survive a partial file.
		assert.Equal(t, 3, cfg.Runner().MaxAttempts)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("runner.max_attempts", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "runner.max_attempts must be at least 1")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("fallback.enabled", true)

		t.Setenv("CARTPILOT_FALLBACK_API_KEY", "env-key-123")
		t.Setenv("CARTPILOT_STORE_DSN", "postgres://envvar/db")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "env-key-123", cfg.Fallback().APIKey)
		assert.Equal(t, "postgres://envvar/db", cfg.Store().DSN)
	})

	t.Run("Gemini Key Convention", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("fallback.enabled", true)
		t.Setenv("CARTPILOT_FALLBACK_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "gemini-key")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "gemini-key", cfg.Fallback().APIKey)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("locators.registry_file", "~/cartpilot/selectors.yaml")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "cartpilot", "selectors.yaml"), cfg.Locators().RegistryFile)
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/cartpilot.log
browser:
  args: ["--lang=en-US", "--mute-audio"]
report:
  format: junit
  output: /tmp/report.xml
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/cartpilot.log", cfg.Logger().LogFile)
	assert.Equal(t, []string{"--lang=en-US", "--mute-audio"}, cfg.Browser().Args)
	assert.Equal(t, "junit", cfg.Report().Format)
	assert.Equal(t, "/tmp/report.xml", cfg.Report().Output)
}

func TestSetters(t *testing.T) {
	var c Interface = NewDefaultConfig()
	c.SetBrowserHeadless(false)
	c.SetRunnerMaxStepTime(5 * time.Second)
	c.SetFallbackEnabled(true)
	c.SetReportOutput("out.json")
	c.SetReportFormat("junit")
	c.SetReportScreenshotDir("shots")

	assert.False(t, c.Browser().Headless)
	assert.Equal(t, 5*time.Second, c.Runner().MaxStepTime)
	assert.True(t, c.Fallback().Enabled)
	assert.Equal(t, "out.json", c.Report().Output)
	assert.Equal(t, "junit", c.Report().Format)
	assert.Equal(t, "shots", c.Report().ScreenshotDir)
}
