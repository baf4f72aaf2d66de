package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
)

// send <peer> <message>: encrypt and send a message to <peer>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			peer, text := args[0], args[1]

			acked := make(chan string, 1)
			handlers := client.Handlers{
				OnDelivered: func(messageID string) {
					select {
					case acked <- "delivered":
					default:
					}
				},
				OnQueuedAck: func(messageID, targetID string) {
					select {
					case acked <- "queued for offline delivery":
					default:
					}
				},
			}

			session, err := connect(ctx, client.SessionHandlers{}, handlers)
			if err != nil {
				return err
			}
			defer session.Logout()

			// The roster broadcast that follows registration carries the
			// peer's public key; give it a moment to land.
			deadline := time.After(registerTimeout)
			for !session.Pipeline().HasKey(peer) {
				select {
				case <-deadline:
					return fmt.Errorf("no public key for %s: are they registered?", peer)
				case <-time.After(100 * time.Millisecond):
				}
			}

			if _, err := session.SendMessage(peer, text); err != nil {
				return err
			}

			select {
			case status := <-acked:
				fmt.Println("Message", status)
			case <-time.After(registerTimeout):
				return fmt.Errorf("no acknowledgment from relay")
			}
			return nil
		},
	}
}
