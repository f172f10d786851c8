package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	watchCmd.Flags().String("prefix", "", "only events whose kind starts with this (inbox., outbound., link.)")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		return withClient(0, func(ctx context.Context, c *api.Client) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err := c.WatchEvents(ctx, prefix, func(env *api.Envelope) error {
				if flagJSON {
					data, err := json.Marshal(env)
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				}
				payload, _ := json.Marshal(env.Payload)
				ts := time.UnixMilli(env.OccurredAtMS).Local().Format("15:04:05.000")
				fmt.Printf("%s  %-24s %s\n", ts, env.Kind, payload)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	},
}
