package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	clientEnvPrefix = "NOTEKEEPER"
	serverEnvPrefix = "NOTEKEEPER_API"

	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultServerDBPath      = "notekeeper-api.db"
	defaultClientStorePath   = "notekeeper.db"
	defaultLogLevel          = "info"
	defaultRemoteBaseURL     = "http://127.0.0.1:8080"
	defaultRemoteTimeout     = 30 * time.Second
	defaultSyncDebounce      = 1500 * time.Millisecond
	defaultRecordTimeout     = 15 * time.Second
	defaultProbeInterval     = 5 * time.Second
	defaultTokenTTL          = 24 * time.Hour
	defaultRateLimitRPS      = 10.0
	defaultRateLimitBurst    = 20
	defaultSessionIssuerName = "notekeeper-auth"
)

// ServerConfig captures runtime configuration for the hosted note collection.
type ServerConfig struct {
	HTTPAddress    string
	DatabasePath   string
	SigningSecret  string
	Issuer         string
	CookieName     string
	TokenTTL       time.Duration
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	LogLevel       string
}

// ClientConfig captures runtime configuration for the offline client.
type ClientConfig struct {
	StorePath      string
	LogLevel       string
	ConsoleLogging bool
	RemoteBaseURL  string
	RemoteTimeout  time.Duration
	SyncDebounce   time.Duration
	RecordTimeout  time.Duration
	ProbeURL       string
	ProbeInterval  time.Duration
	SessionToken   string
	DefaultUserID  string
}

// NewServerViper returns a viper instance with server defaults and env bindings.
func NewServerViper() *viper.Viper {
	configViper := viper.New()
	ApplyServerDefaults(configViper)
	return configViper
}

// NewClientViper returns a viper instance with client defaults and env bindings.
func NewClientViper() *viper.Viper {
	configViper := viper.New()
	ApplyClientDefaults(configViper)
	return configViper
}

// ApplyServerDefaults configures server defaults and env bindings on the provided viper instance.
func ApplyServerDefaults(configViper *viper.Viper) {
	bindEnv(configViper, serverEnvPrefix)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultServerDBPath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultSessionIssuerName)
	configViper.SetDefault("auth.cookie_name", "")
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// ApplyClientDefaults configures client defaults and env bindings on the provided viper instance.
func ApplyClientDefaults(configViper *viper.Viper) {
	bindEnv(configViper, clientEnvPrefix)

	configViper.SetDefault("store.path", defaultClientStorePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.console", true)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.timeout", defaultRemoteTimeout)
	configViper.SetDefault("sync.debounce", defaultSyncDebounce)
	configViper.SetDefault("sync.record_timeout", defaultRecordTimeout)
	configViper.SetDefault("connectivity.probe_url", "")
	configViper.SetDefault("connectivity.probe_interval", defaultProbeInterval)
	configViper.SetDefault("session.token", "")
	configViper.SetDefault("session.user_id", "")
}

func bindEnv(configViper *viper.Viper, prefix string) {
	configViper.SetEnvPrefix(prefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		Issuer:         configViper.GetString("auth.issuer"),
		CookieName:     configViper.GetString("auth.cookie_name"),
		TokenTTL:       configViper.GetDuration("auth.token_ttl"),
		AllowedOrigins: configViper.GetStringSlice("http.allowed_origins"),
		RateLimitRPS:   configViper.GetFloat64("ratelimit.rps"),
		RateLimitBurst: configViper.GetInt("ratelimit.burst"),
		LogLevel:       configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}

// LoadClient parses client configuration from viper. An empty probe URL
// falls back to the remote health endpoint.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		StorePath:      configViper.GetString("store.path"),
		LogLevel:       configViper.GetString("log.level"),
		ConsoleLogging: configViper.GetBool("log.console"),
		RemoteBaseURL:  strings.TrimRight(strings.TrimSpace(configViper.GetString("remote.base_url")), "/"),
		RemoteTimeout:  configViper.GetDuration("remote.timeout"),
		SyncDebounce:   configViper.GetDuration("sync.debounce"),
		RecordTimeout:  configViper.GetDuration("sync.record_timeout"),
		ProbeURL:       strings.TrimSpace(configViper.GetString("connectivity.probe_url")),
		ProbeInterval:  configViper.GetDuration("connectivity.probe_interval"),
		SessionToken:   strings.TrimSpace(configViper.GetString("session.token")),
		DefaultUserID:  strings.TrimSpace(configViper.GetString("session.user_id")),
	}
	if cfg.ProbeURL == "" && cfg.RemoteBaseURL != "" {
		cfg.ProbeURL = cfg.RemoteBaseURL + "/healthz"
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}

	return cfg, nil
}

func (c ClientConfig) validate() error {
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.RemoteBaseURL); err != nil {
		return fmt.Errorf("remote.base_url is invalid: %w", err)
	}
	if c.SyncDebounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}
	if c.RecordTimeout <= 0 {
		return fmt.Errorf("sync.record_timeout must be positive")
	}
	return nil
}
