package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/wppinbox/internal/api"
	"github.com/matheus3301/wppinbox/internal/inbox"
	"github.com/spf13/cobra"
)

func init() {
	chatsCmd.Flags().StringP("search", "s", "", "filter by case-insensitive substring of the name or key")
	rootCmd.AddCommand(chatsCmd, showCmd, selectCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("search")
		return withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			resp, err := c.ListChats(ctx, query)
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if len(resp.Chats) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, s := range resp.Chats {
				marker := " "
				if s.Key == resp.Active {
					marker = "*"
				}
				fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, s.DisplayName, formatMillis(s.LastTimestamp), truncate(s.LastMessagePreview, 48), s.Key)
			}
			return w.Flush()
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print a conversation log",
	Long:  "Print a conversation log. The key may be a phone number, a primary or alias identifier, or any raw key.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			chat, err := c.GetChat(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(chat)
				return nil
			}
			fmt.Printf("%s  [%s]\n", chat.DisplayName, chat.Key)
			if chat.Alias != "" && chat.Alias != chat.Key {
				fmt.Printf("alias: %s\n", chat.Alias)
			}
			fmt.Println()
			for _, m := range chat.Messages {
				fmt.Println(formatMessage(m))
			}
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <key>",
	Short: "Make a conversation the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(10*time.Second, func(ctx context.Context, c *api.Client) error {
			resp, err := c.SetActive(ctx, args[0])
			if err != nil {
				return err
			}
			if flagJSON {
				outputJSON(resp)
				return nil
			}
			if resp.Changed {
				fmt.Printf("Active: %s\n", resp.Active)
			} else {
				fmt.Printf("Already active: %s\n", resp.Active)
			}
			return nil
		})
	},
}

func formatMessage(m inbox.Message) string {
	who := m.From
	if m.FromMe {
		who = "me"
	}
	line := fmt.Sprintf("%s  %s: %s", formatMillis(m.At), who, m.Preview())
	if m.FromMe && m.Status != "" {
		line += "  (" + string(m.Status) + ")"
	}
	return line
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
