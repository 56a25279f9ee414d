// Package config loads the relay configuration from compiled defaults, an
// optional YAML file and the environment, validates it, and watches the file
// for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/relay/chat"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix namespaces environment overrides; "__" separates nested keys,
// so RELAY_CACHE__SIZE sets cache.size.
const EnvPrefix = "RELAY_"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	HTTPAddr    string   `koanf:"http_addr" validate:"required"`
	DBDSN       string   `koanf:"db_dsn"`
	DataDir     string   `koanf:"data_dir" validate:"required"`
	LogLevel    string   `koanf:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string   `koanf:"log_format" validate:"omitempty,oneof=text json"`
	AdminToken  string   `koanf:"admin_token"`
	AdminUser   string   `koanf:"admin_username"`
	AdminPass   string   `koanf:"admin_password"`
	CORSOrigins []string `koanf:"cors_origins"`

	Cache    CacheConfig    `koanf:"cache"`
	Flush    FlushConfig    `koanf:"flush"`
	Features FeaturesConfig `koanf:"features"`

	Servers          []ServerConfig `koanf:"servers" validate:"unique=Name,dive"`
	Friends          []string       `koanf:"friends"`
	BestFriends      []string       `koanf:"best_friends"`
	NicknameTriggers []string       `koanf:"nickname_triggers"`

	Twitch TwitchConfig `koanf:"twitch"`
	NATS   NATSConfig   `koanf:"nats"`
}

type CacheConfig struct {
	Size             int `koanf:"size" validate:"min=1"`
	HighlightContext int `koanf:"highlight_context" validate:"min=-1"`
	MaxBunch         int `koanf:"max_bunch" validate:"min=2"`
}

type FlushConfig struct {
	WriteBack time.Duration `koanf:"write_back" validate:"min=1ms"`
	Delete    time.Duration `koanf:"delete" validate:"min=1ms"`
	LastSeen  time.Duration `koanf:"last_seen" validate:"min=1ms"`
}

type FeaturesConfig struct {
	LogToFile bool `koanf:"log_to_file"`
	LogToDB   bool `koanf:"log_to_db"`
}

// ServerConfig is one chat network session.
type ServerConfig struct {
	Name           string   `koanf:"name" validate:"required,excludesall=/ "`
	Address        string   `koanf:"address" validate:"omitempty,hostname_port"`
	TLS            bool     `koanf:"tls"`
	Nickname       string   `koanf:"nickname" validate:"required"`
	Token          string   `koanf:"token"`
	RefreshToken   string   `koanf:"refresh_token"`
	Channels       []string `koanf:"channels"`
	RetryAttempts  uint     `koanf:"retry_attempts"`
	MessagesPer30s int      `koanf:"messages_per_30s" validate:"min=0"`
}

type TwitchConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

func defaultConfig() *Config {
	return &Config{
		HTTPAddr:  ":8080",
		DataDir:   "data",
		LogLevel:  "info",
		LogFormat: "text",
		Cache: CacheConfig{
			Size:             150,
			HighlightContext: 5,
			MaxBunch:         50,
		},
		Flush: FlushConfig{
			WriteBack: 10 * time.Second,
			Delete:    10 * time.Second,
			LastSeen:  500 * time.Millisecond,
		},
		Features: FeaturesConfig{LogToFile: true, LogToDB: true},
		NATS:     NATSConfig{Subject: "relay.hooks"},
	}
}

// Load layers defaults, the YAML file at path (or the first of
// CONFIG_PATH and DefaultConfigPaths that exists when path is empty), the
// legacy flat environment variables and finally RELAY_ variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", skipEmpty(legacyEnv)), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", skipEmpty(envTransformFunc)), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.applyLegacyServer(k)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns the file Load reads for path, or "" when there is none.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	return findConfigFile()
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// skipEmpty drops variables that are set but empty so they do not mask
// defaults.
func skipEmpty(transform func(string) string) func(key, value string) (string, any) {
	return func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return transform(key), value
	}
}

// envTransformFunc maps RELAY_CACHE__SIZE to cache.size.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// legacyEnv maps the flat variables older deployments use. Anything else is
// ignored.
func legacyEnv(key string) string {
	switch key {
	case "DB_DSN":
		return "db_dsn"
	case "HTTP_ADDR":
		return "http_addr"
	case "DATA_DIR":
		return "data_dir"
	case "LOG_LEVEL":
		return "log_level"
	case "LOG_FORMAT":
		return "log_format"
	case "ADMIN_TOKEN":
		return "admin_token"
	case "ADMIN_USERNAME":
		return "admin_username"
	case "ADMIN_PASSWORD":
		return "admin_password"
	case "TWITCH_CLIENT_ID":
		return "twitch.client_id"
	case "TWITCH_CLIENT_SECRET":
		return "twitch.client_secret"
	case "NATS_URL":
		return "nats.url"
	case "TWITCH_CHANNEL":
		return "legacy.channel"
	case "TWITCH_BOT_USERNAME":
		return "legacy.nickname"
	case "TWITCH_OAUTH_TOKEN":
		return "legacy.token"
	}
	return ""
}

// sliceConfigPaths may arrive from the environment as comma-separated strings.
var sliceConfigPaths = []string{
	"friends",
	"best_friends",
	"nickname_triggers",
	"cors_origins",
	"legacy.channel",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var out []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// applyLegacyServer turns TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN and
// TWITCH_CHANNEL into a "twitch" server when no servers are configured.
func (c *Config) applyLegacyServer(k *koanf.Koanf) {
	nick := k.String("legacy.nickname")
	if nick == "" || len(c.Servers) > 0 {
		return
	}
	c.Servers = []ServerConfig{{
		Name:     "twitch",
		Nickname: nick,
		Token:    k.String("legacy.token"),
		Channels: k.Strings("legacy.channel"),
	}}
}

func (c *Config) normalize() {
	for i := range c.Servers {
		s := &c.Servers[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Nickname = strings.TrimSpace(s.Nickname)
		for j, ch := range s.Channels {
			s.Channels[j] = strings.ToLower(strings.TrimSpace(ch))
		}
	}
}

var validate = validator.New()

// Validate checks struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DSN returns the configured database DSN, defaulting to a SQLite file in
// the data directory.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return "sqlite://" + filepath.Join(c.DataDir, "relay.db")
}

// LogDir is where text logs are written.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// Chat converts s for the connection manager.
func (s ServerConfig) Chat() chat.ServerConfig {
	return chat.ServerConfig{
		Name:           s.Name,
		Address:        s.Address,
		TLS:            s.TLS,
		Nickname:       s.Nickname,
		Token:          s.Token,
		Channels:       append([]string(nil), s.Channels...),
		RetryAttempts:  s.RetryAttempts,
		MessagesPer30s: s.MessagesPer30s,
	}
}

// ChatServers converts every configured server.
func (c *Config) ChatServers() []chat.ServerConfig {
	out := make([]chat.ServerConfig, len(c.Servers))
	for i, s := range c.Servers {
		out[i] = s.Chat()
	}
	return out
}
