// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Session() SessionConfig
	Limits() LimitsConfig
	Strategies() StrategiesConfig

	// Server Setters
	SetServerListenAddr(string)

	// Browser Setters
	SetBrowserHeadless(bool)

	// Session Setters
	SetSessionStrictNavigation(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	NetworkCfg    NetworkConfig    `mapstructure:"network" yaml:"network"`
	SessionCfg    SessionConfig    `mapstructure:"session" yaml:"session"`
	LimitsCfg     LimitsConfig     `mapstructure:"limits" yaml:"limits"`
	StrategiesCfg StrategiesConfig `mapstructure:"strategies" yaml:"strategies"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig       { return c.NetworkCfg }
func (c *Config) Session() SessionConfig       { return c.SessionCfg }
func (c *Config) Limits() LimitsConfig         { return c.LimitsCfg }
func (c *Config) Strategies() StrategiesConfig { return c.StrategiesCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetServerListenAddr(addr string)   { c.ServerCfg.ListenAddr = addr }
func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetSessionStrictNavigation(b bool) { c.SessionCfg.StrictNavigation = b }

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

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	// CORSOrigin enables permissive CORS headers for the given origin when set.
	CORSOrigin string `mapstructure:"cors_origin" yaml:"cors_origin"`
}

// BrowserConfig holds settings for the headless browser process.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Persona         PersonaConfig `mapstructure:"persona" yaml:"persona"`
}

// PersonaConfig is the fingerprint preset applied to every new tab before navigation.
type PersonaConfig struct {
	UserAgent      string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform       string   `mapstructure:"platform" yaml:"platform"`
	Languages      []string `mapstructure:"languages" yaml:"languages"`
	Locale         string   `mapstructure:"locale" yaml:"locale"`
	TimezoneID     string   `mapstructure:"timezone_id" yaml:"timezone_id"`
	ViewportWidth  int64    `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int64    `mapstructure:"viewport_height" yaml:"viewport_height"`
	WebGLVendor    string   `mapstructure:"webgl_vendor" yaml:"webgl_vendor"`
	WebGLRenderer  string   `mapstructure:"webgl_renderer" yaml:"webgl_renderer"`
}

// NetworkConfig tunes page loading behavior.
type NetworkConfig struct {
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IdleQuietPeriod    time.Duration `mapstructure:"idle_quiet_period" yaml:"idle_quiet_period"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
}

// SessionConfig controls session creation policy.
type SessionConfig struct {
	// StrictNavigation surfaces navigation failures during creation instead of
	// registering the session on whatever page the tab settled on.
	StrictNavigation bool          `mapstructure:"strict_navigation" yaml:"strict_navigation"`
	CloseTimeout     time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// LimitsConfig bounds resource usage of the registry.
type LimitsConfig struct {
	MaxSessions int     `mapstructure:"max_sessions" yaml:"max_sessions"`
	CreateRate  float64 `mapstructure:"create_rate" yaml:"create_rate"`
	CreateBurst int     `mapstructure:"create_burst" yaml:"create_burst"`
}

// StrategiesConfig holds the tunable selector lists and thresholds of each strategy.
type StrategiesConfig struct {
	Generic GenericStrategyConfig `mapstructure:"generic" yaml:"generic"`
	Chat    ChatStrategyConfig    `mapstructure:"chat" yaml:"chat"`
}

// GenericStrategyConfig configures the fallback strategy used for arbitrary pages.
type GenericStrategyConfig struct {
	SearchSelectors []string      `mapstructure:"search_selectors" yaml:"search_selectors"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	MaxHeadings     int           `mapstructure:"max_headings" yaml:"max_headings"`
	LabelMaxChars   int           `mapstructure:"label_max_chars" yaml:"label_max_chars"`
	MaxSectionChars int           `mapstructure:"max_section_chars" yaml:"max_section_chars"`
}

// ChatStrategyConfig configures the conversational interface strategy.
type ChatStrategyConfig struct {
	Domains           []string      `mapstructure:"domains" yaml:"domains"`
	InputSelector     string        `mapstructure:"input_selector" yaml:"input_selector"`
	SendSelector      string        `mapstructure:"send_selector" yaml:"send_selector"`
	MessageSelector   string        `mapstructure:"message_selector" yaml:"message_selector"`
	FallbackSelector  string        `mapstructure:"fallback_selector" yaml:"fallback_selector"`
	ContentSelector   string        `mapstructure:"content_selector" yaml:"content_selector"`
	RoleLabel         string        `mapstructure:"role_label" yaml:"role_label"`
	MinResponseChars  int           `mapstructure:"min_response_chars" yaml:"min_response_chars"`
	ShortTextChars    int           `mapstructure:"short_text_chars" yaml:"short_text_chars"`
	InputTimeout      time.Duration `mapstructure:"input_timeout" yaml:"input_timeout"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout" yaml:"completion_timeout"`
	GraceDelay        time.Duration `mapstructure:"grace_delay" yaml:"grace_delay"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPollInterval   time.Duration `mapstructure:"max_poll_interval" yaml:"max_poll_interval"`
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
	v.SetDefault("logger.service_name", "tabrelay")
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

	// -- Server --
	v.SetDefault("server.listen_addr", "0.0.0.0:8080")
	v.SetDefault("server.request_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.cors_origin", "")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.languages", []string{"en-US", "en"})
	v.SetDefault("browser.persona.locale", "en-US")
	v.SetDefault("browser.persona.timezone_id", "America/New_York")
	v.SetDefault("browser.persona.viewport_width", 1920)
	v.SetDefault("browser.persona.viewport_height", 1080)
	v.SetDefault("browser.persona.webgl_vendor", "Intel Open Source Technology Center")
	v.SetDefault("browser.persona.webgl_renderer", "Mesa DRI Intel(R) Ivybridge Mobile")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.idle_quiet_period", "500ms")
	v.SetDefault("network.network_idle_timeout", "5s")

	// -- Session --
	v.SetDefault("session.strict_navigation", false)
	v.SetDefault("session.close_timeout", "10s")

	// -- Limits --
	v.SetDefault("limits.max_sessions", 0)
	v.SetDefault("limits.create_rate", 5.0)
	v.SetDefault("limits.create_burst", 10)

	// -- Strategies --
	v.SetDefault("strategies.generic.search_selectors", []string{
		"textarea[name='q']",
		"input[name='q']",
		"input[type='search']",
		"input[placeholder*='Search']",
		"input[aria-label='Search']",
		"input[type='text']",
	})
	v.SetDefault("strategies.generic.probe_timeout", "200ms")
	v.SetDefault("strategies.generic.max_headings", 5)
	v.SetDefault("strategies.generic.label_max_chars", 40)
	v.SetDefault("strategies.generic.max_section_chars", 4000)

	v.SetDefault("strategies.chat.domains", []string{"chatgpt.com", "openai.com"})
	v.SetDefault("strategies.chat.input_selector", "#prompt-textarea")
	v.SetDefault("strategies.chat.send_selector", "button[data-testid='send-button']")
	v.SetDefault("strategies.chat.message_selector", `[data-testid="conversation"] article`)
	v.SetDefault("strategies.chat.fallback_selector", "article")
	v.SetDefault("strategies.chat.content_selector", `.markdown, [class*="content"], [class*="message"]`)
	v.SetDefault("strategies.chat.role_label", "ChatGPT said:")
	v.SetDefault("strategies.chat.min_response_chars", 15)
	v.SetDefault("strategies.chat.short_text_chars", 20)
	v.SetDefault("strategies.chat.input_timeout", "10s")
	v.SetDefault("strategies.chat.completion_timeout", "60s")
	v.SetDefault("strategies.chat.grace_delay", "5s")
	v.SetDefault("strategies.chat.poll_interval", "250ms")
	v.SetDefault("strategies.chat.max_poll_interval", "2s")
}

// ConfigSearchPaths returns the directories searched for config.yaml, in order.
func ConfigSearchPaths() []string {
	paths := []string{"."}
	if dir, err := homedir.Expand("~/.tabrelay"); err == nil {
		paths = append(paths, dir)
	}
	return paths
}

// BindEnv wires the TABRELAY_ environment prefix onto v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("TABRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LoggerCfg.LogFile != "" {
		expanded, err := homedir.Expand(cfg.LoggerCfg.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.LoggerCfg.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.ServerCfg.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be a positive duration")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.LimitsCfg.MaxSessions < 0 {
		return fmt.Errorf("limits.max_sessions must not be negative")
	}
	if c.LimitsCfg.CreateRate < 0 {
		return fmt.Errorf("limits.create_rate must not be negative")
	}
	if err := c.StrategiesCfg.Generic.Validate(); err != nil {
		return fmt.Errorf("strategies.generic configuration invalid: %w", err)
	}
	if err := c.StrategiesCfg.Chat.Validate(); err != nil {
		return fmt.Errorf("strategies.chat configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the generic strategy settings.
func (g *GenericStrategyConfig) Validate() error {
	if len(g.SearchSelectors) == 0 {
		return fmt.Errorf("search_selectors must not be empty")
	}
	if g.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be a positive duration")
	}
	if g.MaxHeadings < 0 {
		return fmt.Errorf("max_headings must not be negative")
	}
	return nil
}

// Validate checks the chat strategy settings.
func (c *ChatStrategyConfig) Validate() error {
	if c.InputSelector == "" || c.SendSelector == "" || c.MessageSelector == "" {
		return fmt.Errorf("input_selector, send_selector and message_selector are required")
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("completion_timeout must be a positive duration")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if c.MaxPollInterval < c.PollInterval {
		return fmt.Errorf("max_poll_interval must be at least poll_interval")
	}
	if c.RoleLabel == "" {
		return fmt.Errorf("role_label is required")
	}
	return nil
}
