package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/closetconnect/closet-tracker/internal/constants"
)

// Config is the tracker configuration stored in tracker.conf.
type Config struct {
	Server        ServerConfig
	Tracker       TrackerSettings
	Notifications NotificationConfig
	Logging       LoggingConfig
	LocalAPI      LocalAPIConfig
	Proxy         ProxyConfig
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// APIURL is the REST base URL, e.g. http://localhost:8080
	APIURL string `ini:"api_url"`

	// WSURL is the STOMP websocket URL. Empty derives it from APIURL.
	WSURL string `ini:"ws_url"`

	// TopicPrefix is prepended to the user id to form the progress destination.
	TopicPrefix string `ini:"topic_prefix"`
}

// TrackerSettings tunes the progress tracker.
type TrackerSettings struct {
	ReconnectDelaySeconds     int    `ini:"reconnect_delay_seconds"`
	HeartbeatMillis           int    `ini:"heartbeat_ms"`
	FailureGraceSeconds       int    `ini:"failure_grace_seconds"`
	DismissalRetentionMinutes int    `ini:"dismissal_retention_minutes"`
	StorageDir                string `ini:"storage_dir"`
}

// NotificationConfig controls desktop notifications.
type NotificationConfig struct {
	Enabled    bool `ini:"enabled"`
	ShowReady  bool `ini:"show_ready"`
	ShowFailed bool `ini:"show_failed"`
}

// LoggingConfig controls log level and the optional log file.
type LoggingConfig struct {
	Level   string `ini:"level"`
	LogFile string `ini:"log_file"`
}

// LocalAPIConfig controls the read-model HTTP API served by `watch --listen`.
type LocalAPIConfig struct {
	Listen string `ini:"listen"`
}

// ProxyConfig controls outbound proxying for REST and websocket traffic.
type ProxyConfig struct {
	// Mode is one of no-proxy, system, basic, ntlm.
	Mode     string `ini:"mode"`
	Host     string `ini:"host"`
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	NoProxy  string `ini:"no_proxy"`
	Password string `ini:"-"` // never persisted; from CLOSET_PROXY_PASSWORD
}

// Validation errors
var (
	ErrInvalidAPIURL         = errors.New("api_url must be an absolute http(s) URL")
	ErrInvalidWSURL          = errors.New("ws_url must be an absolute ws(s) URL")
	ErrInvalidTopicPrefix    = errors.New("topic_prefix must start with /")
	ErrInvalidReconnectDelay = errors.New("reconnect_delay_seconds must be between 1 and 300")
	ErrInvalidHeartbeat      = errors.New("heartbeat_ms must be between 0 and 60000")
	ErrInvalidGraceDelay     = errors.New("failure_grace_seconds must be between 0 and 60")
	ErrInvalidRetention      = errors.New("dismissal_retention_minutes must be between 1 and 1440")
	ErrInvalidProxyMode      = errors.New("proxy mode must be no-proxy, system, basic or ntlm")
	ErrMissingProxyHost      = errors.New("proxy host is required for basic and ntlm proxy modes")
)

// NewConfig returns a config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL:      constants.DefaultAPIURL,
			TopicPrefix: constants.DefaultTopicPrefix,
		},
		Tracker: TrackerSettings{
			ReconnectDelaySeconds:     int(constants.ReconnectDelay / time.Second),
			HeartbeatMillis:           int(constants.HeartbeatInterval / time.Millisecond),
			FailureGraceSeconds:       int(constants.FailureGraceDelay / time.Second),
			DismissalRetentionMinutes: int(constants.DismissalRetention / time.Minute),
			StorageDir:                DefaultStorageDir(),
		},
		Notifications: NotificationConfig{
			Enabled:    true,
			ShowReady:  true,
			ShowFailed: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		LocalAPI: LocalAPIConfig{
			Listen: constants.DefaultLocalAPIListen,
		},
		Proxy: ProxyConfig{
			Mode: "system",
		},
	}
}

// Load reads tracker.conf from path (DefaultConfigPath when empty). A
// missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracker.conf: %w", err)
	}

	server := iniFile.Section("server")
	cfg.Server.APIURL = server.Key("api_url").MustString(cfg.Server.APIURL)
	cfg.Server.WSURL = server.Key("ws_url").String()
	cfg.Server.TopicPrefix = server.Key("topic_prefix").MustString(cfg.Server.TopicPrefix)

	tracker := iniFile.Section("tracker")
	cfg.Tracker.ReconnectDelaySeconds = tracker.Key("reconnect_delay_seconds").MustInt(cfg.Tracker.ReconnectDelaySeconds)
	cfg.Tracker.HeartbeatMillis = tracker.Key("heartbeat_ms").MustInt(cfg.Tracker.HeartbeatMillis)
	cfg.Tracker.FailureGraceSeconds = tracker.Key("failure_grace_seconds").MustInt(cfg.Tracker.FailureGraceSeconds)
	cfg.Tracker.DismissalRetentionMinutes = tracker.Key("dismissal_retention_minutes").MustInt(cfg.Tracker.DismissalRetentionMinutes)
	cfg.Tracker.StorageDir = tracker.Key("storage_dir").MustString(cfg.Tracker.StorageDir)

	notify := iniFile.Section("notifications")
	cfg.Notifications.Enabled = notify.Key("enabled").MustBool(true)
	cfg.Notifications.ShowReady = notify.Key("show_ready").MustBool(true)
	cfg.Notifications.ShowFailed = notify.Key("show_failed").MustBool(true)

	logging := iniFile.Section("logging")
	cfg.Logging.Level = logging.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.LogFile = logging.Key("log_file").String()

	cfg.LocalAPI.Listen = iniFile.Section("local_api").Key("listen").MustString(cfg.LocalAPI.Listen)

	proxy := iniFile.Section("proxy")
	cfg.Proxy.Mode = proxy.Key("mode").MustString(cfg.Proxy.Mode)
	cfg.Proxy.Host = proxy.Key("host").String()
	cfg.Proxy.Port = proxy.Key("port").MustInt(0)
	cfg.Proxy.User = proxy.Key("user").String()
	cfg.Proxy.NoProxy = proxy.Key("no_proxy").String()

	return cfg, nil
}

// Save writes cfg to path (DefaultConfigPath when empty) atomically with
// owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	sections := []struct {
		name string
		keys [][2]string
	}{
		{"server", [][2]string{
			{"api_url", cfg.Server.APIURL},
			{"ws_url", cfg.Server.WSURL},
			{"topic_prefix", cfg.Server.TopicPrefix},
		}},
		{"tracker", [][2]string{
			{"reconnect_delay_seconds", fmt.Sprintf("%d", cfg.Tracker.ReconnectDelaySeconds)},
			{"heartbeat_ms", fmt.Sprintf("%d", cfg.Tracker.HeartbeatMillis)},
			{"failure_grace_seconds", fmt.Sprintf("%d", cfg.Tracker.FailureGraceSeconds)},
			{"dismissal_retention_minutes", fmt.Sprintf("%d", cfg.Tracker.DismissalRetentionMinutes)},
			{"storage_dir", cfg.Tracker.StorageDir},
		}},
		{"notifications", [][2]string{
			{"enabled", fmt.Sprintf("%t", cfg.Notifications.Enabled)},
			{"show_ready", fmt.Sprintf("%t", cfg.Notifications.ShowReady)},
			{"show_failed", fmt.Sprintf("%t", cfg.Notifications.ShowFailed)},
		}},
		{"logging", [][2]string{
			{"level", cfg.Logging.Level},
			{"log_file", cfg.Logging.LogFile},
		}},
		{"local_api", [][2]string{
			{"listen", cfg.LocalAPI.Listen},
		}},
		{"proxy", [][2]string{
			{"mode", cfg.Proxy.Mode},
			{"host", cfg.Proxy.Host},
			{"port", fmt.Sprintf("%d", cfg.Proxy.Port)},
			{"user", cfg.Proxy.User},
			{"no_proxy", cfg.Proxy.NoProxy},
		}},
	}

	for _, s := range sections {
		section, err := iniFile.NewSection(s.name)
		if err != nil {
			return fmt.Errorf("failed to create %s section: %w", s.name, err)
		}
		for _, kv := range s.keys {
			section.Key(kv[0]).SetValue(kv[1])
		}
	}

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks ranges and URL shapes.
func (cfg *Config) Validate() error {
	u, err := url.Parse(cfg.Server.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidAPIURL
	}
	if cfg.Server.WSURL != "" {
		u, err := url.Parse(cfg.Server.WSURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return ErrInvalidWSURL
		}
	}
	if !strings.HasPrefix(cfg.Server.TopicPrefix, "/") {
		return ErrInvalidTopicPrefix
	}
	if cfg.Tracker.ReconnectDelaySeconds < 1 || cfg.Tracker.ReconnectDelaySeconds > 300 {
		return ErrInvalidReconnectDelay
	}
	if cfg.Tracker.HeartbeatMillis < 0 || cfg.Tracker.HeartbeatMillis > 60000 {
		return ErrInvalidHeartbeat
	}
	if cfg.Tracker.FailureGraceSeconds < 0 || cfg.Tracker.FailureGraceSeconds > 60 {
		return ErrInvalidGraceDelay
	}
	if cfg.Tracker.DismissalRetentionMinutes < 1 || cfg.Tracker.DismissalRetentionMinutes > 1440 {
		return ErrInvalidRetention
	}
	switch strings.ToLower(cfg.Proxy.Mode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if cfg.Proxy.Host == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// EffectiveWSURL returns WSURL, or the websocket endpoint derived from
// APIURL (http→ws, https→wss, plus the SockJS raw websocket path).
func (cfg *Config) EffectiveWSURL() string {
	if cfg.Server.WSURL != "" {
		return cfg.Server.WSURL
	}
	u, err := url.Parse(cfg.Server.APIURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + constants.DefaultWSPath
	return u.String()
}

// ReconnectDelay returns the push reconnect delay.
func (cfg *Config) ReconnectDelay() time.Duration {
	return time.Duration(cfg.Tracker.ReconnectDelaySeconds) * time.Second
}

// Heartbeat returns the requested STOMP heart-beat interval.
func (cfg *Config) Heartbeat() time.Duration {
	return time.Duration(cfg.Tracker.HeartbeatMillis) * time.Millisecond
}

// FailureGrace returns how long FAILED uploads stay visible.
func (cfg *Config) FailureGrace() time.Duration {
	return time.Duration(cfg.Tracker.FailureGraceSeconds) * time.Second
}

// DismissalRetention returns how long dismissals suppress registration.
func (cfg *Config) DismissalRetention() time.Duration {
	return time.Duration(cfg.Tracker.DismissalRetentionMinutes) * time.Minute
}
