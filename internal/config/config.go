package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/logging"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "WIKIREV"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabasePath       = "wikirev.db"
	defaultLogLevel           = "info"
	defaultTokenTTLMinutes    = 60
	defaultRedisTTLSeconds    = 3600
	defaultSaveAttempts       = 3
	defaultSweeperSchedule    = "@every 1h"
	recordTypeSeparator       = ";"
	recordFieldSeparator      = ","
	recordDefinitionSeparator = "="
)

// RecordType names an owner type and the fields tracked on it.
type RecordType struct {
	Name   string
	Fields []string
}

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress     string
	DatabaseDriver  string
	DatabasePath    string
	DatabaseDSN     string
	LogLevel        string
	SigningSecret   string
	TokenTTL        time.Duration
	RedisAddress    string
	RedisTTL        time.Duration
	SaveAttempts    int
	SweeperSchedule string
	RecordTypes     []RecordType
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.ttl_seconds", defaultRedisTTLSeconds)
	configViper.SetDefault("revisions.save_attempts", defaultSaveAttempts)
	configViper.SetDefault("sweeper.schedule", defaultSweeperSchedule)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	recordTypes, err := ParseRecordTypes(configViper.GetString("records.types"))
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		RedisAddress:    strings.TrimSpace(configViper.GetString("redis.address")),
		RedisTTL:        time.Duration(configViper.GetInt("redis.ttl_seconds")) * time.Second,
		SaveAttempts:    configViper.GetInt("revisions.save_attempts"),
		SweeperSchedule: strings.TrimSpace(configViper.GetString("sweeper.schedule")),
		RecordTypes:     recordTypes,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// ParseRecordTypes reads definitions such as "Actor=biography,filmography;Movie=plot".
func ParseRecordTypes(raw string) ([]RecordType, error) {
	var parsed []RecordType
	for _, definition := range strings.Split(raw, recordTypeSeparator) {
		definition = strings.TrimSpace(definition)
		if definition == "" {
			continue
		}
		name, fieldList, found := strings.Cut(definition, recordDefinitionSeparator)
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("records.types: malformed definition %q", definition)
		}
		var fields []string
		for _, field := range strings.Split(fieldList, recordFieldSeparator) {
			if field = strings.TrimSpace(field); field != "" {
				fields = append(fields, field)
			}
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("records.types: %s tracks no fields", name)
		}
		parsed = append(parsed, RecordType{Name: name, Fields: fields})
	}
	return parsed, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.SaveAttempts < 1 {
		return fmt.Errorf("revisions.save_attempts must be positive")
	}
	if c.RedisAddress != "" && c.RedisTTL <= 0 {
		return fmt.Errorf("redis.ttl_seconds must be positive")
	}
	return nil
}

// RequireServer checks the settings only the HTTP server needs.
func (c AppConfig) RequireServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if len(c.RecordTypes) == 0 {
		return fmt.Errorf("records.types must declare at least one record type")
	}
	return nil
}
