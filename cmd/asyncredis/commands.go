package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/spf13/cobra"
)

var (
	setTTL time.Duration

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client.Ping(ctx); err != nil {
				return err
			}

			fmt.Println("PONG")
			return nil
		},
	}

	doCmd = &cobra.Command{
		Use:   "do [command] [args...]",
		Short: "Run an arbitrary command inside the namespace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			commandArgs := make([]interface{}, 0, len(args)-1)
			for _, arg := range args[1:] {
				commandArgs = append(commandArgs, arg)
			}

			reply, err := client.Do(ctx, strings.ToUpper(args[0]), commandArgs...)
			if err != nil {
				return err
			}

			printReply(reply, "")
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Gets the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			value, ok, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}

			if !ok {
				fmt.Println("(nil)")
				return nil
			}

			fmt.Println(value)
			return nil
		},
	}

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			if err := client.Set(ctx, args[0], args[1], setTTL); err != nil {
				return err
			}

			fmt.Println("OK")
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [key...]",
		Short: "Deletes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			n, err := client.Del(ctx, args...)
			if err != nil {
				return err
			}

			fmt.Printf("deleted=%d\n", n)
			return nil
		},
	}

	keysCmd = &cobra.Command{
		Use:   "keys [pattern]",
		Short: "Lists the keys of the namespace matching a pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			pattern := "*"
			if len(args) == 1 {
				pattern = args[0]
			}

			keys, err := client.Keys(ctx, pattern)
			if err != nil {
				return err
			}

			for _, key := range keys {
				fmt.Println(key)
			}

			return nil
		},
	}

	saddCmd = &cobra.Command{
		Use:   "sadd [key] [member...]",
		Short: "Adds members to a set",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			members := make([]interface{}, 0, len(args)-1)
			for _, member := range args[1:] {
				members = append(members, member)
			}

			n, err := client.SAdd(ctx, args[0], members...)
			if err != nil {
				return err
			}

			fmt.Printf("added=%d\n", n)
			return nil
		},
	}

	smembersCmd = &cobra.Command{
		Use:   "smembers [key]",
		Short: "Lists the members of a set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			members, err := client.SMembers(ctx, args[0])
			if err != nil {
				return err
			}

			for _, member := range members {
				fmt.Println(member)
			}

			return nil
		},
	}
)

func init() {
	setCmd.Flags().DurationVar(&setTTL, "ttl", 0, WrapString("Expire the key after this duration (0 keeps it forever)"))
}

// printReply writes a raw reply the way redis-cli does
func printReply(reply interface{}, indent string) {
	switch v := reply.(type) {
	case nil:
		fmt.Println(indent + "(nil)")
	case int64:
		fmt.Printf("%s(integer) %d\n", indent, v)
	case []byte:
		fmt.Printf("%s%q\n", indent, string(v))
	case string:
		fmt.Println(indent + v)
	case redis.Error:
		fmt.Printf("%s(error) %s\n", indent, v.Error())
	case []interface{}:
		if len(v) == 0 {
			fmt.Println(indent + "(empty array)")
		}

		for i, item := range v {
			fmt.Printf("%s%d)\n", indent, i+1)
			printReply(item, indent+"  ")
		}
	default:
		fmt.Printf("%s%v\n", indent, v)
	}
}

// waitOrTimeout blocks until ctx ends or the duration elapses (a zero
// duration waits for ctx only).
func waitOrTimeout(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
