package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	asyncredis "github.com/bordbe/async-redis"
)

// Wrap is the number of characters to wrap the help text at
const Wrap int = 50

var optionKeys = []string{
	asyncredis.OptionHost,
	asyncredis.OptionPort,
	asyncredis.OptionDB,
	asyncredis.OptionPassword,
	asyncredis.OptionNamespace,
	asyncredis.OptionMaxConnections,
	asyncredis.OptionAcquireTimeout,
	asyncredis.OptionHealthCheckInterval,
	asyncredis.OptionConnectTimeout,
	asyncredis.OptionReadTimeout,
	asyncredis.OptionWriteTimeout,
}

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var (
		lines     []string
		line      strings.Builder
		lineWidth = 0
	)

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			line.WriteString(" ")
			lineWidth++
		}

		line.WriteString(word)
		lineWidth += len(word)
	}

	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// setupClientFlags adds the connection options to a command. Flag names
// are the option keys so flags, environment, and config files agree.
func setupClientFlags(cmd *cobra.Command) {
	defaults := asyncredis.DefaultConfig()
	flags := cmd.PersistentFlags()

	flags.String(asyncredis.OptionHost, defaults.Host, WrapString("Host of the Redis server"))
	flags.Int(asyncredis.OptionPort, defaults.Port, WrapString("Port of the Redis server"))
	flags.Int(asyncredis.OptionDB, defaults.DB, WrapString("Database index selected on every new connection"))
	flags.String(asyncredis.OptionPassword, defaults.Password, WrapString("Password sent with AUTH on every new connection"))
	flags.String(asyncredis.OptionNamespace, defaults.Namespace, WrapString("Prefix applied to every key and channel"))
	flags.Int(asyncredis.OptionMaxConnections, defaults.MaxConnections, WrapString("Maximum number of open connections"))
	flags.Duration(asyncredis.OptionAcquireTimeout, defaults.AcquireTimeout, WrapString("Maximum wait for a free connection (0 waits as long as the command timeout allows)"))
	flags.Duration(asyncredis.OptionHealthCheckInterval, defaults.HealthCheckInterval, WrapString("Idle age after which a connection is pinged before reuse (0 disables the check)"))
	flags.Duration(asyncredis.OptionConnectTimeout, defaults.ConnectTimeout, WrapString("Timeout for establishing a connection"))
	flags.Duration(asyncredis.OptionReadTimeout, defaults.ReadTimeout, WrapString("Timeout for reading a reply"))
	flags.Duration(asyncredis.OptionWriteTimeout, defaults.WriteTimeout, WrapString("Timeout for writing a command"))

	flags.String("config", "", WrapString("Optional config file (yaml, json, or toml) holding connection options"))
	flags.Duration("timeout", time.Second*10, WrapString("Timeout of a single command"))
	flags.Bool("verbose", false, WrapString("Log pool and connection activity to stderr"))
}

// initEnv loads env files and prepares the global viper instance
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("asyncredis")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig resolves the connection options from flags, environment,
// and the optional config file. Only option keys reach the returned
// configuration so a typo in the config file is rejected.
func loadConfig(cmd *cobra.Command) (*asyncredis.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("asyncredis")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := viper.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, key := range optionKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return nil, err
		}
	}

	return asyncredis.LoadConfig(v)
}

func newLogger() asyncredis.Logger {
	level := zerolog.WarnLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}

	return asyncredis.NewZerologLogger(
		zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			Level(level).
			With().
			Timestamp().
			Logger(),
	)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), viper.GetDuration("timeout"))
}
