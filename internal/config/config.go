// Package config loads server settings from defaults, an optional config
// file and BUBBLEKIT_* environment variables.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/bubblekit/backend/internal/db"
	"github.com/bubblekit/backend/internal/stream"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "BUBBLEKIT"

// Conversation list backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config holds the server settings.
type Config struct {
	Server        ServerConfig
	CORS          CORSConfig
	Stream        stream.Config
	Log           LogConfig
	Conversations ConversationsConfig
	Demo          bool
}

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// CORSConfig lists the origins allowed to call the API. "*" allows any origin.
type CORSConfig struct {
	AllowOrigins []string
}

// LogConfig selects the log level and output format (console or json).
type LogConfig struct {
	Level  string
	Format string
}

// ConversationsConfig selects where conversation lists are stored.
type ConversationsConfig struct {
	Backend string
	DSN     string
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	defaults := stream.DefaultConfig()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("stream.first_event_timeout", defaults.FirstEventTimeout)
	v.SetDefault("stream.idle_timeout", defaults.IdleTimeout)
	v.SetDefault("stream.heartbeat_interval", defaults.HeartbeatInterval)
	v.SetDefault("stream.handler_grace", defaults.HandlerGrace)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("conversations.backend", BackendMemory)
	v.SetDefault("conversations.dsn", db.DefaultDSN)
	v.SetDefault("demo", true)
}

// Load reads the optional config file into v and returns the validated settings.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	cfg := Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowOrigins: v.GetStringSlice("cors.allow_origins"),
		},
		Stream: stream.Config{
			FirstEventTimeout: v.GetDuration("stream.first_event_timeout"),
			IdleTimeout:       v.GetDuration("stream.idle_timeout"),
			HeartbeatInterval: v.GetDuration("stream.heartbeat_interval"),
			HandlerGrace:      v.GetDuration("stream.handler_grace"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Conversations: ConversationsConfig{
			Backend: strings.ToLower(v.GetString("conversations.backend")),
			DSN:     v.GetString("conversations.dsn"),
		},
		Demo: v.GetBool("demo"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	for key, d := range map[string]time.Duration{
		"stream.first_event_timeout": c.Stream.FirstEventTimeout,
		"stream.idle_timeout":        c.Stream.IdleTimeout,
		"stream.heartbeat_interval":  c.Stream.HeartbeatInterval,
		"stream.handler_grace":       c.Stream.HandlerGrace,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", key, d)
		}
	}
	switch c.Conversations.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Conversations.DSN == "" {
			return errors.New("conversations.dsn is required for the sqlite backend")
		}
	default:
		return errors.Errorf("unknown conversations.backend %q", c.Conversations.Backend)
	}
	return nil
}
