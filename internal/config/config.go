package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// TrustedProxies lists the IPs or CIDRs whose forwarding headers are believed.
	// Empty means the client IP is always the TCP peer address.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	LiveKit   LiveKitConfig   `mapstructure:"livekit" yaml:"livekit"`
	Rooms     RoomsConfig     `mapstructure:"rooms" yaml:"rooms"`
	Token     TokenConfig     `mapstructure:"token" yaml:"token"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
}

// RateLimitConfig bounds per-IP request rates on /api routes. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// LiveKitConfig holds the credentials and URLs of the LiveKit deployment.
type LiveKitConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
	// WSURL is the server-side websocket URL; the admin API base is derived from it.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`
	// ServerURL is the default client-facing URL returned by /api/url.
	ServerURL      string            `mapstructure:"server_url" yaml:"server_url"`
	RegionURLs     map[string]string `mapstructure:"region_urls" yaml:"region_urls"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// RoomsConfig defines the room naming shape and the policy applied to provisioned rooms.
type RoomsConfig struct {
	NameSegments    int           `mapstructure:"name_segments" yaml:"name_segments"`
	EmptyTimeout    time.Duration `mapstructure:"empty_timeout" yaml:"empty_timeout"`
	MaxParticipants int           `mapstructure:"max_participants" yaml:"max_participants"`
}

// TokenConfig controls issued access tokens.
type TokenConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// AgentConfig describes the optional agent dispatched into freshly started rooms.
type AgentConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	DispatchURL string `mapstructure:"dispatch_url" yaml:"dispatch_url"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 10,
		},
		LiveKit: LiveKitConfig{
			RequestTimeout: 10 * time.Second,
		},
		Rooms: RoomsConfig{
			NameSegments:    3,
			EmptyTimeout:    5 * time.Minute,
			MaxParticipants: 2,
		},
		Token: TokenConfig{
			TTL: 5 * time.Minute,
		},
		Agent: AgentConfig{
			Name: "agent",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate checks values that would otherwise fail later at request time.
// Missing LiveKit credentials are not an error here: the token endpoint reports them per request.
func (c Config) Validate() error {
	var errs []error

	if c.Rooms.NameSegments != 2 && c.Rooms.NameSegments != 3 {
		errs = append(errs, fmt.Errorf("rooms.name_segments must be 2 or 3, got %d", c.Rooms.NameSegments))
	}
	if c.Rooms.EmptyTimeout <= 0 {
		errs = append(errs, errors.New("rooms.empty_timeout must be positive"))
	}
	if c.Rooms.MaxParticipants <= 0 {
		errs = append(errs, errors.New("rooms.max_participants must be positive"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("token.ttl must be positive"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive when rate limiting is enabled"))
	}
	if c.LiveKit.WSURL != "" {
		if err := checkURL(c.LiveKit.WSURL); err != nil {
			errs = append(errs, fmt.Errorf("livekit.ws_url: %w", err))
		}
	}
	if c.Agent.DispatchURL != "" {
		if err := checkURL(c.Agent.DispatchURL); err != nil {
			errs = append(errs, fmt.Errorf("agent.dispatch_url: %w", err))
		}
	}
	for _, proxy := range c.TrustedProxies {
		if err := checkProxy(proxy); err != nil {
			errs = append(errs, fmt.Errorf("trusted_proxies: %w", err))
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute url", raw)
	}
	return nil
}

func checkProxy(raw string) error {
	if strings.Contains(raw, "/") {
		if _, _, err := net.ParseCIDR(raw); err != nil {
			return err
		}
		return nil
	}
	if net.ParseIP(raw) == nil {
		return fmt.Errorf("%q is not an ip or cidr", raw)
	}
	return nil
}
