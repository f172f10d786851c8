package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	outboxCmd.Flags().IntP("limit", "n", 20, "number of entries to show")
	rootCmd.AddCommand(sendCmd, sendMediaCmd, outboxCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <key> <text...>",
	Short: "Send a text message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args[1:], " ")
		return withClient(0, func(ctx context.Context, c *api.Client) error {
			resp, err := c.SendText(ctx, args[0], text)
			if err != nil {
				return err
			}
			printSent(resp)
			return nil
		})
	},
}

var sendMediaCmd = &cobra.Command{
	Use:       "send-media <key> <image|video|audio|document> <path>",
	Short:     "Upload a file as media",
	Args:      cobra.ExactArgs(3),
	ValidArgs: []string{"image", "video", "audio", "document"},
	RunE: func(cmd *cobra.Command, args []string) error {
		// The daemon reads the file, so relative paths must be made absolute here.
		path, err := filepath.Abs(args[2])
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		return withClient(0, func(ctx context.Context, c *api.Client) error {
			resp, err := c.SendMedia(ctx, args[0], args[1], path)
			if err != nil {
				return err
			}
			printSent(resp)
			return nil
		})
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Show recent send attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListOutbound(ctx, limit)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if len(resp.Entries) == 0 {
				fmt.Println("No sends recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, e := range resp.Entries {
				detail := e.Body
				if e.Filename != "" {
					detail = e.Filename
				}
				result := e.Status
				if e.HTTPStatus != 0 {
					result = fmt.Sprintf("%s %d", e.Status, e.HTTPStatus)
				}
				if e.Error != "" {
					result += ": " + e.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatMillis(e.CreatedAt), e.Kind, e.Target, truncate(detail, 40), result)
			}
			return w.Flush()
		})
	},
}

func printSent(resp *api.SendReply) {
	if flagJSON {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent to %s (%s)\n", resp.Target, resp.Message.ID)
}
