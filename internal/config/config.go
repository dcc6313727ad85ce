package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "POKER"

type Config struct {
	Bind            string
	Port            int
	ShutdownTimeout time.Duration
	OutboxSize      int
	ReadLimit       int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	OriginPatterns  []string
	LogLevel        string
	DevLogging      bool
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown-timeout must be positive")
	}
	if c.PingInterval <= 0 || c.WriteTimeout <= 0 {
		return errors.New("ping-interval and write-timeout must be positive")
	}
	if c.OutboxSize < 1 {
		return fmt.Errorf("invalid outbox-size: %d", c.OutboxSize)
	}
	if c.ReadLimit < 128 {
		return fmt.Errorf("read-limit too small: %d", c.ReadLimit)
	}
	return nil
}

// LoadDotEnv loads .env files if present. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// NewCommand builds the root command. Every flag can also be set through
// POKER_<FLAG> with dashes replaced by underscores.
func NewCommand(cfg *Config, version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "planning-poker",
		Short:         "Real-time planning poker estimation server.",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var err error
			flags.VisitAll(func(f *pflag.Flag) {
				if err != nil || f.Changed || !v.IsSet(f.Name) {
					return
				}
				val := v.GetString(f.Name)
				if sv, ok := f.Value.(pflag.SliceValue); ok {
					err = sv.Replace(splitList(val))
				} else {
					err = flags.Set(f.Name, val)
				}
				if err != nil {
					err = fmt.Errorf("env %s_%s: %w", EnvPrefix, envKey(f.Name), err)
				}
			})
			if err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	flags.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: POKER_BIND)")
	flags.IntVarP(&cfg.Port, "port", "p", 3000, "port to listen on (env: POKER_PORT)")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for open connections on shutdown (env: POKER_SHUTDOWN_TIMEOUT)")
	flags.IntVar(&cfg.OutboxSize, "outbox-size", 32, "queued messages per connection before it is dropped as slow (env: POKER_OUTBOX_SIZE)")
	flags.Int64Var(&cfg.ReadLimit, "read-limit", 4096, "maximum inbound message size in bytes (env: POKER_READ_LIMIT)")
	flags.DurationVar(&cfg.PingInterval, "ping-interval", 30*time.Second, "websocket keepalive ping interval (env: POKER_PING_INTERVAL)")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", 5*time.Second, "per-message write and ping timeout (env: POKER_WRITE_TIMEOUT)")
	flags.StringSliceVar(&cfg.OriginPatterns, "origin", nil, "extra allowed websocket origin host patterns (env: POKER_ORIGIN)")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: POKER_LOG_LEVEL)")
	flags.BoolVar(&cfg.DevLogging, "dev-logging", false, "human readable console logs (env: POKER_DEV_LOGGING)")

	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("planning-poker v{{.Version}}\n")

	return cmd
}

func envKey(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
