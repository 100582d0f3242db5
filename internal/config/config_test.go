// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server().ListenAddr)
	assert.Equal(t, 120*time.Second, cfg.Server().RequestTimeout)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "America/New_York", cfg.Browser().Persona.TimezoneID)
	assert.Equal(t, int64(1920), cfg.Browser().Persona.ViewportWidth)
	assert.Equal(t, 60*time.Second, cfg.Network().NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Network().NetworkIdleTimeout)
	assert.False(t, cfg.Session().StrictNavigation)
	assert.Equal(t, 0, cfg.Limits().MaxSessions)

	generic := cfg.Strategies().Generic
	require.Len(t, generic.SearchSelectors, 6)
	assert.Equal(t, "textarea[name='q']", generic.SearchSelectors[0])
	assert.Equal(t, "input[type='text']", generic.SearchSelectors[5])
	assert.Equal(t, 200*time.Millisecond, generic.ProbeTimeout)
	assert.Equal(t, 5, generic.MaxHeadings)

	chat := cfg.Strategies().Chat
	assert.Equal(t, []string{"chatgpt.com", "openai.com"}, chat.Domains)
	assert.Equal(t, "#prompt-textarea", chat.InputSelector)
	assert.Equal(t, 15, chat.MinResponseChars)
	assert.Equal(t, 60*time.Second, chat.CompletionTimeout)
	assert.Equal(t, 5*time.Second, chat.GraceDelay)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "A valid config should not produce a validation error")

		cfgNoAddr := *cfg
		cfgNoAddr.ServerCfg.ListenAddr = ""
		err := cfgNoAddr.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "server.listen_addr is required")

		cfgNegativeLimit := *cfg
		cfgNegativeLimit.LimitsCfg.MaxSessions = -1
		err = cfgNegativeLimit.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "limits.max_sessions must not be negative")

		cfgNoNavTimeout := *cfg
		cfgNoNavTimeout.NetworkCfg.NavigationTimeout = 0
		assert.Error(t, cfgNoNavTimeout.Validate())
	})

	t.Run("Generic Strategy Validation", func(t *testing.T) {
		g := NewDefaultConfig().Strategies().Generic
		assert.NoError(t, g.Validate())

		g.SearchSelectors = nil
		err := g.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "search_selectors must not be empty")
	})

	t.Run("Chat Strategy Validation", func(t *testing.T) {
		c := NewDefaultConfig().Strategies().Chat
		assert.NoError(t, c.Validate())

		c.SendSelector = ""
		assert.Error(t, c.Validate())

		c = NewDefaultConfig().Strategies().Chat
		c.PollInterval = 0
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "poll_interval")

		c = NewDefaultConfig().Strategies().Chat
		c.MaxPollInterval = 0
		err = c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_poll_interval")

		c = NewDefaultConfig().Strategies().Chat
		c.RoleLabel = ""
		err = c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "role_label")
	})
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
server:
  listen_addr: "127.0.0.1:9000"
session:
  strict_navigation: true
limits:
  max_sessions: 3
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9000", cfg.Server().ListenAddr)
		assert.True(t, cfg.Session().StrictNavigation)
		assert.Equal(t, 3, cfg.Limits().MaxSessions)
		// Check a default value was also loaded
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("strategies.generic.search_selectors", []string{})

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "search_selectors must not be empty")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)

		yamlConfig := []byte(`
server:
  listen_addr: "127.0.0.1:7000"
`)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		t.Setenv("TABRELAY_SERVER_LISTEN_ADDR", "127.0.0.1:9999")
		t.Setenv("TABRELAY_BROWSER_HEADLESS", "false")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		// The env var overrides the value from the config buffer.
		assert.Equal(t, "127.0.0.1:9999", cfg.Server().ListenAddr)
		assert.False(t, cfg.Browser().Headless)
	})

	t.Run("Expands home in log file path", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("logger.log_file", "~/tabrelay.log")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.NotContains(t, cfg.Logger().LogFile, "~")
		assert.Contains(t, cfg.Logger().LogFile, "tabrelay.log")
	})
}

// -- Struct and Mapping Tests --

func TestConfigStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  log_file: /var/log/tabrelay.log
network:
  network_idle_timeout: 2s
strategies:
  chat:
    domains: ["chat.example.com"]
    completion_timeout: 90s
`
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/var/log/tabrelay.log", cfg.Logger().LogFile)
	assert.Equal(t, 2*time.Second, cfg.Network().NetworkIdleTimeout)
	assert.Equal(t, []string{"chat.example.com"}, cfg.Strategies().Chat.Domains)
	assert.Equal(t, 90*time.Second, cfg.Strategies().Chat.CompletionTimeout)
	// Untouched nested defaults survive a partial override.
	assert.Equal(t, "#prompt-textarea", cfg.Strategies().Chat.InputSelector)
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetServerListenAddr(":1234")
	iface.SetBrowserHeadless(false)
	iface.SetSessionStrictNavigation(true)

	assert.Equal(t, ":1234", cfg.Server().ListenAddr)
	assert.False(t, cfg.Browser().Headless)
	assert.True(t, cfg.Session().StrictNavigation)
}

func TestConfigSearchPaths(t *testing.T) {
	paths := ConfigSearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[0])
}
