// Package config builds the runtime configuration once at startup.
//
// Values come, in increasing priority, from defaults, an optional config
// file, RULEBOOK_* environment variables and bound command-line flags. The
// result is a plain struct passed explicitly to the orchestrator and every
// runner; nothing reads configuration from package state.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/rulebook/internal/ident"
	"github.com/roach88/rulebook/internal/rulebook"
)

// EnvPrefix prefixes every environment override: RULEBOOK_SHUTDOWN_DELAY.
const EnvPrefix = "RULEBOOK"

// Keys understood by Load.
const (
	KeyID                       = "id"
	KeyShutdownDelay            = "shutdown_delay"
	KeyDefaultExecutionStrategy = "default_execution_strategy"
	KeyPrintEvents              = "print_events"
	KeyHeartbeat                = "heartbeat"
	KeySkipAuditEvents          = "skip_audit_events"
	KeyWebsocketURL             = "websocket_url"
	KeyMetricsAddress           = "metrics_address"
	KeyDatabase                 = "database"
	KeyLogLevel                 = "log_level"
)

// Config is the process-wide configuration.
type Config struct {
	// ID is the activation id stamped on every telemetry record.
	ID string

	// ShutdownDelay is the default graceful shutdown delay in seconds,
	// used by source endings and shutdown actions without a delay.
	ShutdownDelay float64

	DefaultExecutionStrategy rulebook.ExecutionStrategy

	// PrintEvents prints every received event to stdout.
	PrintEvents bool

	// Heartbeat is the SessionStats interval. Zero disables it.
	Heartbeat time.Duration

	// SkipAuditEvents drops audit records from the websocket forwarder.
	SkipAuditEvents bool

	WebsocketURL   string
	MetricsAddress string

	// Database is the SQLite path for the event-log store. Empty disables
	// persistence.
	Database string

	LogLevel slog.Level
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		ShutdownDelay:            rulebook.DefaultShutdownDelay,
		DefaultExecutionStrategy: rulebook.Sequential,
		LogLevel:                 slog.LevelInfo,
	}
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. When empty, rulebook.yaml is
	// searched for in the working directory and $HOME/.config/rulebook.
	File string

	// Flags are bound over every other source when changed.
	Flags *pflag.FlagSet

	// IDs generates the activation id when none is configured.
	IDs ident.Generator
}

// Load resolves the configuration. A missing config file is not an error
// unless it was named explicitly.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("rulebook")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/rulebook")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		if err := bindFlags(v, opts.Flags); err != nil {
			return nil, err
		}
	}

	return decode(v, opts.IDs)
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyID, "")
	v.SetDefault(KeyShutdownDelay, d.ShutdownDelay)
	v.SetDefault(KeyDefaultExecutionStrategy, string(d.DefaultExecutionStrategy))
	v.SetDefault(KeyPrintEvents, false)
	v.SetDefault(KeyHeartbeat, 0)
	v.SetDefault(KeySkipAuditEvents, false)
	v.SetDefault(KeyWebsocketURL, "")
	v.SetDefault(KeyMetricsAddress, "")
	v.SetDefault(KeyDatabase, "")
	v.SetDefault(KeyLogLevel, "info")
}

// bindFlags binds flags whose names match a key, with dashes for
// underscores: --shutdown-delay binds shutdown_delay.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	keys := []string{
		KeyID, KeyShutdownDelay, KeyDefaultExecutionStrategy, KeyPrintEvents,
		KeyHeartbeat, KeySkipAuditEvents, KeyWebsocketURL, KeyMetricsAddress,
		KeyDatabase, KeyLogLevel,
	}
	for _, key := range keys {
		f := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	}
	return nil
}

func decode(v *viper.Viper, ids ident.Generator) (*Config, error) {
	c := &Config{
		ID:              v.GetString(KeyID),
		ShutdownDelay:   v.GetFloat64(KeyShutdownDelay),
		PrintEvents:     v.GetBool(KeyPrintEvents),
		SkipAuditEvents: v.GetBool(KeySkipAuditEvents),
		WebsocketURL:    v.GetString(KeyWebsocketURL),
		MetricsAddress:  v.GetString(KeyMetricsAddress),
		Database:        v.GetString(KeyDatabase),
	}

	if c.ShutdownDelay < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %g", KeyShutdownDelay, c.ShutdownDelay)
	}

	switch s := rulebook.ExecutionStrategy(v.GetString(KeyDefaultExecutionStrategy)); s {
	case rulebook.Sequential, rulebook.Parallel:
		c.DefaultExecutionStrategy = s
	default:
		return nil, fmt.Errorf("%s must be %s or %s, got %q",
			KeyDefaultExecutionStrategy, rulebook.Sequential, rulebook.Parallel, s)
	}

	seconds := v.GetFloat64(KeyHeartbeat)
	if seconds < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %g", KeyHeartbeat, seconds)
	}
	c.Heartbeat = time.Duration(seconds * float64(time.Second))

	if err := c.LogLevel.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyLogLevel, err)
	}

	if c.ID == "" {
		if ids == nil {
			ids = ident.UUIDv7Generator{}
		}
		c.ID = ids.Generate()
	}
	return c, nil
}
