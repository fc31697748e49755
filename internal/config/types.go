package config

import "time"

// Config represents the complete ipmgw configuration.
type Config struct {
	Service ServiceConfig           `yaml:"service"`
	State   StateConfig             `yaml:"state"`
	IPM     IPMConfig               `yaml:"ipm"`
	API     APIConfig               `yaml:"api,omitempty"`
	Locale  LocaleConfig            `yaml:"locale,omitempty"`
	Timings map[string]TimingConfig `yaml:"timings,omitempty"`
	Include []string                `yaml:"include,omitempty"`

	// SourceFiles lists the absolute path of every loaded file.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	TickInterval time.Duration `yaml:"tick_interval"`
	LogLevel     string        `yaml:"log_level"`
	// Platform is reported to the content script with onpage-dialog.show.
	Platform string `yaml:"platform"`
}

// StateConfig defines preference storage settings.
type StateConfig struct {
	Backend string      `yaml:"backend"` // sqlite | redis | memory
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the shared preference backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// IPMConfig covers the telemetry server and command engine.
type IPMConfig struct {
	ServerURL     string        `yaml:"server_url"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	DefaultOrigin string        `yaml:"default_origin"`
	SafeOrigins   []string      `yaml:"safe_origins"`
	PushSecret    string        `yaml:"push_secret,omitempty"`
	Install       InstallInfo   `yaml:"install"`
}

// InstallInfo describes the client installation reported with each ping.
type InstallInfo struct {
	AppName     string `yaml:"app_name"`
	AppVersion  string `yaml:"app_version"`
	BrowserName string `yaml:"browser_name"`
	OS          string `yaml:"os"`
	InstallType string `yaml:"install_type"`
	LanguageTag string `yaml:"language_tag"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// LocaleConfig is returned to the content script alongside dialog content.
type LocaleConfig struct {
	Language  string `yaml:"language"`
	Direction string `yaml:"direction"`
}

// TimingConfig seeds onpage_dialog_timing_configurations when unset.
// Cooldown is in hours, allowlisting delays in minutes.
type TimingConfig struct {
	Cooldown             float64  `yaml:"cooldown"`
	MaxDisplayCount      int      `yaml:"max_display_count"`
	MinAllowlistingDelay *float64 `yaml:"min_allowlisting_delay,omitempty"`
	MaxAllowlistingDelay *float64 `yaml:"max_allowlisting_delay,omitempty"`
}

// ChecksumManifest is the on-disk .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "ipmgw",
			TickInterval: time.Minute,
			LogLevel:     "info",
			Platform:     "chromium",
		},
		State: StateConfig{
			Backend: "sqlite",
			Path:    "./data/prefs.db",
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "ipmgw:",
			},
		},
		IPM: IPMConfig{
			ServerURL:     "https://ipm.adblockplus.dev/api/stats",
			PingInterval:  24 * time.Hour,
			DefaultOrigin: "https://adblockplus.org",
			SafeOrigins:   []string{"https://adblockplus.org", "https://accounts.adblockplus.org"},
			Install: InstallInfo{
				AppName:     "adblockplus",
				AppVersion:  "0.0.0",
				BrowserName: "chrome",
				OS:          "linux",
				InstallType: "normal",
				LanguageTag: "en-US",
			},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Locale: LocaleConfig{
			Language:  "en",
			Direction: "ltr",
		},
	}
}
