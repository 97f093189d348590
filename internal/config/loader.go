package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "MEET_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"

	// regionURLEnvPrefix matches the conventional LIVEKIT_URL_<REGION> variables.
	regionURLEnvPrefix = "LIVEKIT_URL_"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLiveKitEnv(v); err != nil {
		return cfg, "", fmt.Errorf("bind env: %w", err)
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LiveKit.RegionURLs = mergeRegionURLs(cfg.LiveKit.RegionURLs, os.Environ())

	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("allowed_origins", cfg.AllowedOrigins)
	v.SetDefault("trusted_proxies", cfg.TrustedProxies)
	v.SetDefault("rate_limit.rps", cfg.RateLimit.RPS)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)
	v.SetDefault("livekit.api_key", cfg.LiveKit.APIKey)
	v.SetDefault("livekit.api_secret", cfg.LiveKit.APISecret)
	v.SetDefault("livekit.ws_url", cfg.LiveKit.WSURL)
	v.SetDefault("livekit.server_url", cfg.LiveKit.ServerURL)
	v.SetDefault("livekit.request_timeout", cfg.LiveKit.RequestTimeout)
	v.SetDefault("rooms.name_segments", cfg.Rooms.NameSegments)
	v.SetDefault("rooms.empty_timeout", cfg.Rooms.EmptyTimeout)
	v.SetDefault("rooms.max_participants", cfg.Rooms.MaxParticipants)
	v.SetDefault("token.ttl", cfg.Token.TTL)
	v.SetDefault("agent.name", cfg.Agent.Name)
	v.SetDefault("agent.dispatch_url", cfg.Agent.DispatchURL)
}

// bindLiveKitEnv accepts the variable names LiveKit tooling uses in addition to MEET_* ones.
func bindLiveKitEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"livekit.api_key":    {"MEET_LIVEKIT_API_KEY", "LIVEKIT_API_KEY"},
		"livekit.api_secret": {"MEET_LIVEKIT_API_SECRET", "LIVEKIT_API_SECRET"},
		"livekit.ws_url":     {"MEET_LIVEKIT_WS_URL", "LIVEKIT_WS_URL"},
		"livekit.server_url": {"MEET_LIVEKIT_SERVER_URL", "LIVEKIT_URL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

// mergeRegionURLs adds LIVEKIT_URL_<REGION> variables to the configured map. Env wins.
func mergeRegionURLs(configured map[string]string, environ []string) map[string]string {
	out := make(map[string]string, len(configured))
	for region, u := range configured {
		out[strings.ToLower(region)] = u
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, regionURLEnvPrefix) || value == "" {
			continue
		}
		region := strings.ToLower(strings.TrimPrefix(key, regionURLEnvPrefix))
		if region == "" {
			continue
		}
		out[region] = value
	}
	return out
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
