package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
)

// history <peer>: fetch and print a page of conversation history.
func historyCmd() *cobra.Command {
	var limit int
	var before int64

	cmd := &cobra.Command{
		Use:   "history <peer>",
		Short: "Print a page of conversation history with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			peer := args[0]
			done := make(chan struct{}, 1)

			handlers := client.Handlers{
				OnHistory: func(peerID string, messages []client.Message, hasMore bool) {
					for _, msg := range messages {
						at := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
						fmt.Printf("[%s] %s: %s\n", at, msg.SenderID, msg.Text)
					}
					if hasMore {
						oldest := int64(0)
						if len(messages) > 0 {
							oldest = messages[0].Timestamp
						}
						fmt.Printf("(more available, rerun with --before %d)\n", oldest)
					}
					select {
					case done <- struct{}{}:
					default:
					}
				},
			}

			session, err := connect(ctx, client.SessionHandlers{}, handlers)
			if err != nil {
				return err
			}
			defer session.Logout()

			if err := session.RequestHistory(peer, limit, before); err != nil {
				return err
			}

			select {
			case <-done:
			case <-time.After(registerTimeout):
				return fmt.Errorf("no history reply from relay")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "messages per page")
	cmd.Flags().Int64Var(&before, "before", 0, "only messages older than this unix-millisecond timestamp")
	return cmd
}
