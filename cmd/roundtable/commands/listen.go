package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
	"github.com/roundtable/relay/internal/model"
)

// listen: stay connected and print messages as they arrive.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print incoming messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var session *client.Session
			handlers := client.Handlers{
				OnMessage: func(msg client.Message) {
					tag := ""
					if msg.Queued {
						tag = " (queued while offline)"
					}
					at := time.UnixMilli(msg.Timestamp).Format("15:04:05")
					fmt.Printf("[%s] %s: %s%s\n", at, msg.SenderID, msg.Text, tag)
					if session != nil {
						_ = session.MarkRead(msg.ID)
					}
				},
				OnRead: func(messageID string) {
					fmt.Println("read:", messageID)
				},
			}
			events := client.SessionHandlers{
				OnRoster: func(users []model.Presence) {
					online := 0
					for _, u := range users {
						if u.Status == model.StatusOnline {
							online++
						}
					}
					fmt.Printf("roster: %d users, %d online\n", len(users), online)
				},
				OnState: func(state client.State) {
					if state == client.StateConnecting {
						fmt.Println("reconnecting...")
					}
				},
			}

			var err error
			session, err = connect(ctx, events, handlers)
			if err != nil {
				return err
			}
			defer session.Logout()

			fmt.Println("Listening as", session.UserID(), "- Ctrl+C to quit")
			<-ctx.Done()
			return nil
		},
	}
}
