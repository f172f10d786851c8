package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/spf13/cobra"
)

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm discarding every conversation")
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset --yes",
	Short: "Discard all conversations and the stored snapshot",
	Long: "reset empties the daemon's inbox: every conversation, the alias map, the active\n" +
		"selection and the persisted snapshot. The outbound log is kept.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return errors.New("reset discards every conversation; pass --yes to confirm")
		}
		return withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			resp, err := c.Reset(ctx)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			fmt.Printf("Discarded %d conversations, %d messages, %d aliases.\n",
				resp.Conversations, resp.Messages, resp.Aliases)
			return nil
		})
	},
}
