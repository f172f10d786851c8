package main

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/matheus3301/wppinbox/internal/lock"
	"github.com/matheus3301/wppinbox/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, stream link and inbox status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			resp, err := c.GetStatus(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Session:       %s\n", resp.Session)
			fmt.Printf("Gateway:       %s\n", resp.Gateway)
			fmt.Printf("Link:          %s (since %s)\n", resp.State, formatMillis(resp.StateSinceMS))
			fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMS) * time.Millisecond).Round(time.Second))
			fmt.Printf("Active:        %s\n", valueOrDefault(resp.Active, "(none)"))
			fmt.Printf("Conversations: %d (%d messages, %d aliases)\n", resp.Conversations, resp.Messages, resp.Aliases)
			fmt.Printf("Outbound:      %d sent, %d failed\n", resp.OutboundSent, resp.OutboundFailed)
			if resp.DroppedEvents > 0 {
				fmt.Printf("Dropped:       %d bus events\n", resp.DroppedEvents)
			}
			return nil
		})
		if grpcstatus.Code(err) == codes.Unavailable {
			return notRunning(err)
		}
		return err
	},
}

// notRunning explains an unreachable daemon using the session lock.
func notRunning(err error) error {
	name, nameErr := sessionName()
	if nameErr != nil {
		return err
	}
	h, probeErr := lock.Probe(session.Dir(name))
	if probeErr != nil || h == nil {
		return fmt.Errorf("daemon for session %q is not running (start it with: inboxd --session %s)", name, name)
	}
	return fmt.Errorf("daemon PID %d holds session %q but is not answering: %w", h.PID, name, err)
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
