package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
)

// signup: identify with credentials; the relay creates the account when
// the username is free.
func signupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account on the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			created := make(chan bool, 1)
			events := client.SessionHandlers{
				OnSignup: func(success bool, reason string) {
					if !success && reason != "" {
						fmt.Println("Signup failed:", reason)
					}
					select {
					case created <- success:
					default:
					}
				},
			}

			session, err := connect(ctx, events, client.Handlers{})
			if err != nil {
				return err
			}
			defer session.Logout()

			// The signup ack trails the registered ack by one frame.
			select {
			case ok := <-created:
				if !ok {
					return fmt.Errorf("signup failed")
				}
				fmt.Println("Account created:", username)
			case <-time.After(2 * time.Second):
				fmt.Println("Logged in as existing account:", username)
			}
			return nil
		},
	}
}
