// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/xkilldash9x/weblogin-harvester/api/schemas"
)

// EnvironmentProduction is the environment name that hides diagnostic detail from HTTP callers.
const EnvironmentProduction = "PRODUCTION"

// Config holds the entire application configuration.
type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment"`
	Logger      LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Queue       QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Login       LoginConfig     `mapstructure:"login" yaml:"login"`
	Selectors   SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	Timing      TimingConfig    `mapstructure:"timing" yaml:"timing"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
}

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

// BrowserConfig controls how the shared browser process is launched and probed.
// ExecPath pins the local executable; empty means probe well-known paths.
// BundledExecPath is the executable used in serverless environments.
// Stealth applies the Locale/Timezone persona and automation evasions to
// every tab; an empty Timezone keeps the host's.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	BundledExecPath   string        `mapstructure:"bundled_exec_path" yaml:"bundled_exec_path"`
	ScratchProfileDir string        `mapstructure:"scratch_profile_dir" yaml:"scratch_profile_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Stealth           bool          `mapstructure:"stealth" yaml:"stealth"`
	Locale            string        `mapstructure:"locale" yaml:"locale"`
	Timezone          string        `mapstructure:"timezone" yaml:"timezone"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// QueueConfig bounds concurrent browser work.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// LoginConfig holds the account and target. The three credential fields are
// not validated at startup; a run without them fails on request.
type LoginConfig struct {
	Email         string `mapstructure:"email" yaml:"email"`
	Password      string `mapstructure:"password" yaml:"password"`
	WebURL        string `mapstructure:"web_url" yaml:"web_url"`
	Verify        bool   `mapstructure:"verify" yaml:"verify"`
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// SelectorsConfig lists the DOM selectors of the target login flow. Fallback
// lists are ordered by preference.
type SelectorsConfig struct {
	LoginButton       string   `mapstructure:"login_button" yaml:"login_button"`
	EmailInput        string   `mapstructure:"email_input" yaml:"email_input"`
	PasswordInput     string   `mapstructure:"password_input" yaml:"password_input"`
	SubmitButton      string   `mapstructure:"submit_button" yaml:"submit_button"`
	SubmitFallbacks   []string `mapstructure:"submit_fallbacks" yaml:"submit_fallbacks"`
	PasswordFallbacks []string `mapstructure:"password_fallbacks" yaml:"password_fallbacks"`
	AuthIndicators    []string `mapstructure:"auth_indicators" yaml:"auth_indicators"`
}

// TimingConfig holds every wait the login flow performs.
type TimingConfig struct {
	NavigationTimeout         time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SPASettle                 time.Duration `mapstructure:"spa_settle" yaml:"spa_settle"`
	LoginProbeTimeout         time.Duration `mapstructure:"login_probe_timeout" yaml:"login_probe_timeout"`
	PostClickDelay            time.Duration `mapstructure:"post_click_delay" yaml:"post_click_delay"`
	EmailTimeout              time.Duration `mapstructure:"email_timeout" yaml:"email_timeout"`
	SelectorTimeout           time.Duration `mapstructure:"selector_timeout" yaml:"selector_timeout"`
	TypingDelay               time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
	SubmitSettle              time.Duration `mapstructure:"submit_settle" yaml:"submit_settle"`
	EmailNavigationTimeout    time.Duration `mapstructure:"email_navigation_timeout" yaml:"email_navigation_timeout"`
	PasswordNavigationTimeout time.Duration `mapstructure:"password_navigation_timeout" yaml:"password_navigation_timeout"`
	ConfirmationTimeout       time.Duration `mapstructure:"confirmation_timeout" yaml:"confirmation_timeout"`
	ConfirmationGrace         time.Duration `mapstructure:"confirmation_grace" yaml:"confirmation_grace"`
	AuthIndicatorWait         time.Duration `mapstructure:"auth_indicator_wait" yaml:"auth_indicator_wait"`
	NetworkIdleTimeout        time.Duration `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	CookieFlush               time.Duration `mapstructure:"cookie_flush" yaml:"cookie_flush"`
	VerifySettle              time.Duration `mapstructure:"verify_settle" yaml:"verify_settle"`
}

// ServerConfig holds the HTTP front end settings. LoginRate is the sustained
// number of login runs accepted per minute; zero disables limiting.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LoginRate       float64       `mapstructure:"login_rate" yaml:"login_rate"`
	LoginBurst      int           `mapstructure:"login_burst" yaml:"login_burst"`
	CORSOrigin      string        `mapstructure:"cors_origin" yaml:"cors_origin"`
	MetricsPath     string        `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// Credentials returns the configured login target.
func (c *Config) Credentials() schemas.Credentials {
	return schemas.Credentials{
		Email:    c.Login.Email,
		Password: c.Login.Password,
		WebURL:   c.Login.WebURL,
	}
}

// IsProduction reports whether diagnostic detail must be withheld from callers.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static, so this only fires on a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvironmentProduction)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harvester")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
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
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.bundled_exec_path", "")
	v.SetDefault("browser.scratch_profile_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "")
	v.SetDefault("browser.launch_timeout", 30*time.Second)
	v.SetDefault("browser.probe_timeout", 5*time.Second)
	v.SetDefault("browser.close_timeout", 10*time.Second)

	// -- Queue --
	v.SetDefault("queue.concurrency", 3)

	// -- Login --
	v.SetDefault("login.email", "")
	v.SetDefault("login.password", "")
	v.SetDefault("login.web_url", "")
	v.SetDefault("login.verify", true)
	v.SetDefault("login.screenshot_dir", "")

	// -- Selectors --
	v.SetDefault("selectors.login_button", `a[href="/login"]`)
	v.SetDefault("selectors.email_input", `input[type="email"]`)
	v.SetDefault("selectors.password_input", `input[type="password"][name="password"]`)
	v.SetDefault("selectors.submit_button", `button[type="submit"][data-sentry-component="SubmitButton"]`)
	v.SetDefault("selectors.submit_fallbacks", []string{
		`button[type="submit"]`,
		`input[type="submit"]`,
		`[data-testid="continue-button"]`,
		`[data-testid="submit-button"]`,
	})
	v.SetDefault("selectors.password_fallbacks", []string{
		`input[type="password"]`,
		`input[name="password"]`,
		`input[autocomplete*="password"]`,
		`[data-testid="password-input"]`,
		`#password`,
		`.password-input`,
	})
	v.SetDefault("selectors.auth_indicators", []string{
		`[data-testid="user-menu"]`,
		`[data-testid="dashboard"]`,
		`.user-avatar`,
		`.logout-button`,
		`[data-testid="user-profile"]`,
		`.user-name`,
		`nav[data-authenticated="true"]`,
		`.authenticated`,
	})

	// -- Timing --
	v.SetDefault("timing.navigation_timeout", 60*time.Second)
	v.SetDefault("timing.spa_settle", 1500*time.Millisecond)
	v.SetDefault("timing.login_probe_timeout", 10*time.Second)
	v.SetDefault("timing.post_click_delay", 700*time.Millisecond)
	v.SetDefault("timing.email_timeout", 15*time.Second)
	v.SetDefault("timing.selector_timeout", 5*time.Second)
	v.SetDefault("timing.typing_delay", 40*time.Millisecond)
	v.SetDefault("timing.submit_settle", 1500*time.Millisecond)
	v.SetDefault("timing.email_navigation_timeout", 15*time.Second)
	v.SetDefault("timing.password_navigation_timeout", 30*time.Second)
	v.SetDefault("timing.confirmation_timeout", 20*time.Second)
	v.SetDefault("timing.confirmation_grace", 1200*time.Millisecond)
	v.SetDefault("timing.auth_indicator_wait", 5*time.Second)
	v.SetDefault("timing.network_idle_timeout", 10*time.Second)
	v.SetDefault("timing.cookie_flush", 1500*time.Millisecond)
	v.SetDefault("timing.verify_settle", 1200*time.Millisecond)

	// -- Server --
	v.SetDefault("server.port", 9900)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.login_rate", 30.0)
	v.SetDefault("server.login_burst", 5)
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.metrics_path", "/metrics")
}

// bindEnv maps the bare environment names the service has always read onto
// their config keys. The prefixed form keeps precedence.
func bindEnv(v *viper.Viper) {
	v.BindEnv("environment", "HARVESTER_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("login.email", "HARVESTER_LOGIN_EMAIL", "EMAIL")
	v.BindEnv("login.password", "HARVESTER_LOGIN_PASSWORD", "PASSWORD")
	v.BindEnv("login.web_url", "HARVESTER_LOGIN_WEB_URL", "WEB_URL")
	v.BindEnv("server.port", "HARVESTER_SERVER_PORT", "PORT")
	v.BindEnv("browser.exec_path", "HARVESTER_BROWSER_EXEC_PATH", "CHROME_PATH", "PUPPETEER_EXECUTABLE_PATH")
}

// NewConfigFromViper binds environment variables, unmarshals and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	bindEnv(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Login.ScreenshotDir,
		&c.Browser.ExecPath,
		&c.Browser.BundledExecPath,
		&c.Browser.ScratchProfileDir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Environment) == "" {
		return fmt.Errorf("environment must not be empty")
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be a positive integer")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.LoginRate < 0 {
		return fmt.Errorf("server.login_rate must not be negative")
	}
	if c.Server.LoginRate > 0 && c.Server.LoginBurst <= 0 {
		return fmt.Errorf("server.login_burst must be positive when server.login_rate is set")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive")
	}
	if c.Browser.LaunchTimeout <= 0 || c.Browser.ProbeTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout and browser.probe_timeout must be positive")
	}
	if err := c.Selectors.Validate(); err != nil {
		return fmt.Errorf("selectors configuration invalid: %w", err)
	}
	if err := c.Timing.Validate(); err != nil {
		return fmt.Errorf("timing configuration invalid: %w", err)
	}
	return nil
}

// Validate checks that every required selector is present.
func (s *SelectorsConfig) Validate() error {
	if s.LoginButton == "" || s.EmailInput == "" || s.SubmitButton == "" {
		return fmt.Errorf("login_button, email_input, and submit_button are required")
	}
	if s.PasswordInput == "" && len(s.PasswordFallbacks) == 0 {
		return fmt.Errorf("password_input or password_fallbacks is required")
	}
	return nil
}

// Validate rejects negative waits and zero timeouts on required steps.
func (t *TimingConfig) Validate() error {
	required := map[string]time.Duration{
		"navigation_timeout":  t.NavigationTimeout,
		"login_probe_timeout": t.LoginProbeTimeout,
		"email_timeout":       t.EmailTimeout,
		"selector_timeout":    t.SelectorTimeout,
	}
	for name, d := range required {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	optional := map[string]time.Duration{
		"spa_settle":                  t.SPASettle,
		"post_click_delay":            t.PostClickDelay,
		"typing_delay":                t.TypingDelay,
		"submit_settle":               t.SubmitSettle,
		"email_navigation_timeout":    t.EmailNavigationTimeout,
		"password_navigation_timeout": t.PasswordNavigationTimeout,
		"confirmation_timeout":        t.ConfirmationTimeout,
		"confirmation_grace":          t.ConfirmationGrace,
		"auth_indicator_wait":         t.AuthIndicatorWait,
		"network_idle_timeout":        t.NetworkIdleTimeout,
		"cookie_flush":                t.CookieFlush,
		"verify_settle":               t.VerifySettle,
	}
	for name, d := range optional {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}
