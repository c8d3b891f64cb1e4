package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	asyncredis "github.com/bordbe/async-redis"
)

const Version = "0.1.0"

var (
	client asyncredis.Client
	config *asyncredis.Config

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "asyncredis",
		Short: "namespaced Redis client",
		Long: fmt.Sprintf(`asyncredis (v%s)

A pooled Redis client that confines every key and channel to a
namespace. Connection options are read from flags, from environment
variables prefixed with ASYNCREDIS_, and from an optional config file.`, Version),
		SilenceUsage:       true,
		PersistentPreRunE:  setupClient,
		PersistentPostRunE: closeClient,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of asyncredis",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("asyncredis v%s\n", Version)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the resolved connection options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.String())
			return nil
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Ping the server and print the pool metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client.Ping(ctx); err != nil {
				return err
			}

			client.WritePrometheus(os.Stdout)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	setupClientFlags(RootCmd)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(pingCmd)
	RootCmd.AddCommand(doCmd)
	RootCmd.AddCommand(getCmd)
	RootCmd.AddCommand(setCmd)
	RootCmd.AddCommand(delCmd)
	RootCmd.AddCommand(keysCmd)
	RootCmd.AddCommand(saddCmd)
	RootCmd.AddCommand(smembersCmd)
	RootCmd.AddCommand(publishCmd)
	RootCmd.AddCommand(subscribeCmd)
	RootCmd.AddCommand(lockCmd)
}

// setupClient resolves the configuration and creates the client
func setupClient(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var err error
	if config, err = loadConfig(cmd); err != nil {
		return err
	}

	client, err = asyncredis.NewClientFromConfig(config, asyncredis.WithLogger(newLogger()))
	return err
}

func closeClient(_ *cobra.Command, _ []string) error {
	if client != nil {
		client.Close()
	}

	return nil
}
