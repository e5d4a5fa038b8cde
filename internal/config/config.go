package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "AGORA"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultLogLevel         = "info"
	defaultStoreCapacity    = 100
	defaultMaxMessageLength = 500
	defaultEventBuffer      = 64
	defaultArchiveDSN       = "file::memory:?cache=shared"
)

// AppConfig captures runtime configuration for the chat server.
type AppConfig struct {
	HTTPAddress      string
	LogLevel         string
	StoreCapacity    int
	MaxMessageLength int
	EventBuffer      int
	ArchiveDSN       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("chat.store_capacity", defaultStoreCapacity)
	configViper.SetDefault("chat.max_message_length", defaultMaxMessageLength)
	configViper.SetDefault("chat.event_buffer", defaultEventBuffer)
	configViper.SetDefault("archive.dsn", defaultArchiveDSN)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		LogLevel:         configViper.GetString("log.level"),
		StoreCapacity:    configViper.GetInt("chat.store_capacity"),
		MaxMessageLength: configViper.GetInt("chat.max_message_length"),
		EventBuffer:      configViper.GetInt("chat.event_buffer"),
		ArchiveDSN:       configViper.GetString("archive.dsn"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.StoreCapacity <= 0 {
		return fmt.Errorf("chat.store_capacity must be positive")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("chat.max_message_length must be positive")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("chat.event_buffer must be positive")
	}
	if strings.TrimSpace(c.ArchiveDSN) == "" {
		return fmt.Errorf("archive.dsn is required")
	}
	return nil
}
