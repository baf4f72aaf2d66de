// Package commands wires the roundtable CLI: an end-to-end encrypted
// chat client speaking the relay's websocket protocol.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
	"github.com/roundtable/relay/internal/config"
	"github.com/roundtable/relay/internal/logger"
)

var (
	serverURL string
	username  string
	password  string
	name      string

	cfg *config.ClientConfig
	log *logger.Logger
)

const registerTimeout = 15 * time.Second

func Execute() error {
	root := &cobra.Command{
		Use:           "roundtable",
		Short:         "End-to-end encrypted chat over the roundtable relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.NewClientConfig()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			log = logger.New(cfg.LogLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "relay websocket URL (default ws://localhost:8080/ws)")
	root.PersistentFlags().StringVarP(&username, "username", "u", "", "account username")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "account password")
	root.PersistentFlags().StringVar(&name, "name", "", "display name (default username)")

	root.AddCommand(signupCmd(), sendCmd(), listenCmd(), historyCmd(), friendsCmd())

	err := root.Execute()
	if err != nil {
		fmt.Println("Error:", err)
	}
	return err
}

// connect derives keys, starts the reconnect loop and blocks until the
// relay acknowledges the identify.
func connect(ctx context.Context, events client.SessionHandlers, handlers client.Handlers) (*client.Session, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password required (-u, -p)")
	}

	registered := make(chan string, 1)
	rejected := make(chan string, 1)

	onRegistered := events.OnRegistered
	events.OnRegistered = func(userID string) {
		select {
		case registered <- userID:
		default:
		}
		if onRegistered != nil {
			onRegistered(userID)
		}
	}
	onInvalid := events.OnInvalidSession
	events.OnInvalidSession = func(reason string) {
		select {
		case rejected <- reason:
		default:
		}
		if onInvalid != nil {
			onInvalid(reason)
		}
	}

	session := client.NewSession(cfg, client.DialWebsocket, events, handlers, log)
	if err := session.Login(username, name, password); err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("session loop ended", "error", err.Error())
		}
	}()

	select {
	case <-registered:
		return session, nil
	case reason := <-rejected:
		return nil, fmt.Errorf("relay rejected session: %s", reason)
	case <-time.After(registerTimeout):
		return nil, fmt.Errorf("timed out waiting for relay registration")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
