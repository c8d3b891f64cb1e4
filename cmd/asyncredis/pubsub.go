package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	asyncredis "github.com/bordbe/async-redis"
)

var (
	subscribePatterns bool
	subscribeFor      time.Duration
	lockTTL           time.Duration
	lockHold          time.Duration

	publishCmd = &cobra.Command{
		Use:   "publish [channel] [message]",
		Short: "Publishes a message on a channel of the namespace",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			n, err := client.Publish(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Printf("receivers=%d\n", n)
			return nil
		},
	}

	subscribeCmd = &cobra.Command{
		Use:   "subscribe [channel...]",
		Short: "Prints messages published on channels of the namespace until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSubscribe,
	}

	lockCmd = &cobra.Command{
		Use:   "lock [name]",
		Short: "Acquires a lock, holds it, and releases it",
		Long:  "Acquires the named lock, holds it until interrupted or until --hold elapses, then releases it.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLock,
	}
)

func init() {
	subscribeCmd.Flags().BoolVar(&subscribePatterns, "pattern", false, WrapString("Treat the arguments as glob patterns"))
	subscribeCmd.Flags().DurationVar(&subscribeFor, "for", 0, WrapString("Stop after this duration (0 runs until interrupted)"))

	lockCmd.Flags().DurationVar(&lockTTL, "ttl", time.Second*30, WrapString("Expiry of the lock key"))
	lockCmd.Flags().DurationVar(&lockHold, "hold", 0, WrapString("Release the lock after this duration (0 holds until interrupted)"))
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	lost := make(chan error, 1)

	handler := asyncredis.HandlerFuncs{
		OnMessage: func(m asyncredis.Message) {
			if m.Pattern != "" {
				fmt.Printf("%s (%s): %s\n", m.Channel, m.Pattern, m.Data)
				return
			}

			fmt.Printf("%s: %s\n", m.Channel, m.Data)
		},
		OnLost: func(err error) {
			lost <- err
		},
	}

	subscribeCtx, cancel := commandContext(cmd)
	defer cancel()

	subscribe := client.Subscribe
	if subscribePatterns {
		subscribe = client.PSubscribe
	}

	sub, err := subscribe(subscribeCtx, handler, args...)
	if err != nil {
		return err
	}

	waitCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		select {
		case <-sub.Done():
		case <-waitCtx.Done():
		}

		stop()
	}()

	waitOrTimeout(waitCtx, subscribeFor)

	select {
	case err := <-lost:
		return err
	default:
	}

	closeCtx, cancelClose := commandContext(cmd)
	defer cancelClose()

	return sub.Close(closeCtx)
}

func runLock(cmd *cobra.Command, args []string) error {
	m := client.Mutex(args[0], lockTTL)

	acquireCtx, cancel := commandContext(cmd)
	defer cancel()

	if err := m.Lock(acquireCtx); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	fmt.Printf("acquired=true, token=%s\n", m.Token())

	// Keep the lock alive while it is held
	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	refresh := lockTTL / 3
	if refresh <= 0 {
		refresh = time.Second * 10
	}

	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Extend(ctx); err != nil {
					fmt.Printf("lost lock: %v\n", err)
					stop()
					return
				}
			}
		}
	}()

	waitOrTimeout(ctx, lockHold)
	stop()

	releaseCtx, cancelRelease := context.WithTimeout(context.Background(), time.Second*5)
	defer cancelRelease()

	if err := m.Unlock(releaseCtx); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Println("released=true")
	return nil
}
