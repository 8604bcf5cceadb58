// Package config provides Viper-based configuration loading for the lobby client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// SessionConfig holds the tunables of the session handshake.
type SessionConfig struct {
	// RoomCapacity is the maximum occupant count for rooms created by this client.
	RoomCapacity int `mapstructure:"room_capacity"`
	// RoomVisible controls whether created rooms are listed in the lobby.
	RoomVisible bool `mapstructure:"room_visible"`
	// RoomOpen controls whether created rooms accept joiners.
	RoomOpen bool `mapstructure:"room_open"`
	// ExpiryGrace is how long an empty room survives on the master server.
	ExpiryGrace time.Duration `mapstructure:"expiry_grace"`
	// LatencyInterval is the period of the latency sampler.
	LatencyInterval time.Duration `mapstructure:"latency_interval"`
	// GameScene is the scene the authority node loads after joining a room.
	GameScene string `mapstructure:"game_scene"`
}

// TransportConfig selects and tunes the transport implementation.
type TransportConfig struct {
	// Kind is the transport implementation. Only "sim" ships with this repository.
	Kind string `mapstructure:"kind"`
	// Scenario is the path to the simulator's YAML scenario file.
	Scenario string `mapstructure:"scenario"`
	// CallbackDelay is the simulated latency before each callback is delivered.
	CallbackDelay time.Duration `mapstructure:"callback_delay"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// TelemetryConfig controls where connection telemetry is recorded.
type TelemetryConfig struct {
	// Sink is one of "none", "log", or "postgres".
	Sink string `mapstructure:"sink"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Session   SessionConfig   `mapstructure:"session"`
	Transport TransportConfig `mapstructure:"transport"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTransport(c.Transport); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateTelemetry(c.Telemetry); err != nil {
		errs = append(errs, err.Error())
	}
	// The database section only matters when telemetry is written to it.
	if c.Telemetry.Sink == "postgres" {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.RoomCapacity < 1 || s.RoomCapacity > 255 {
		errs = append(errs, fmt.Sprintf("session.room_capacity must be 1-255, got %d", s.RoomCapacity))
	}
	if s.ExpiryGrace < 0 {
		errs = append(errs, "session.expiry_grace must not be negative")
	}
	if s.LatencyInterval <= 0 {
		errs = append(errs, fmt.Sprintf("session.latency_interval must be > 0, got %s", s.LatencyInterval))
	}
	if strings.TrimSpace(s.GameScene) == "" {
		errs = append(errs, "session.game_scene must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.Kind != "sim" {
		errs = append(errs, fmt.Sprintf("transport.kind must be one of [sim], got %q", t.Kind))
	}
	if t.Kind == "sim" && t.Scenario == "" {
		errs = append(errs, "transport.scenario must not be empty for the sim transport")
	}
	if t.CallbackDelay < 0 {
		errs = append(errs, "transport.callback_delay must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTelemetry(t TelemetryConfig) error {
	validSinks := map[string]bool{"none": true, "log": true, "postgres": true}
	if !validSinks[t.Sink] {
		return fmt.Errorf("telemetry.sink must be one of [none, log, postgres], got %q", t.Sink)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with LOBBY_ prefix
	v.SetEnvPrefix("LOBBY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("session.room_capacity", 4)
	v.SetDefault("session.room_visible", true)
	v.SetDefault("session.room_open", true)
	v.SetDefault("session.expiry_grace", "0s")
	v.SetDefault("session.latency_interval", "3s")
	v.SetDefault("session.game_scene", "02_GameScene")

	v.SetDefault("transport.kind", "sim")
	v.SetDefault("transport.scenario", "configs/scenario.yaml")
	v.SetDefault("transport.callback_delay", "50ms")

	v.SetDefault("telemetry.sink", "log")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "lobby")
	v.SetDefault("database.password", "lobby")
	v.SetDefault("database.name", "lobby")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
}
