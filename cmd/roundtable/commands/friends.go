package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtable/relay/internal/client"
	"github.com/roundtable/relay/internal/protocol"
)

// friends: list, add, accept, decline.
func friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage friend requests and the friends list",
	}
	cmd.AddCommand(friendsListCmd(), friendsAddCmd(), friendsAcceptCmd(), friendsDeclineCmd())
	return cmd
}

func friendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show friends plus pending and sent requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Three replies are expected: pending, sent, friends.
			replies := make(chan struct{}, 3)
			events := client.SessionHandlers{
				OnFriendEvent: func(frame protocol.Frame) {
					switch frame.Type {
					case protocol.TypeFriendRequestsList:
						var ev protocol.FriendRequestsList
						if frame.Decode(&ev) != nil {
							return
						}
						fmt.Println("Pending requests:")
						for _, r := range ev.Requests {
							fmt.Printf("  %s (%s)\n", r.SenderUsername, r.SenderID)
						}
						replies <- struct{}{}
					case protocol.TypeSentFriendRequests:
						var ev protocol.SentFriendRequestsList
						if frame.Decode(&ev) != nil {
							return
						}
						fmt.Println("Sent requests:")
						for _, r := range ev.Requests {
							fmt.Printf("  %s (%s)\n", r.ReceiverUsername, r.ReceiverID)
						}
						replies <- struct{}{}
					case protocol.TypeFriendsList:
						var ev protocol.FriendsList
						if frame.Decode(&ev) != nil {
							return
						}
						fmt.Println("Friends:")
						for _, id := range ev.Friends {
							fmt.Printf("  %s\n", id)
						}
						replies <- struct{}{}
					}
				},
			}

			session, err := connect(ctx, events, client.Handlers{})
			if err != nil {
				return err
			}
			defer session.Logout()

			if err := session.RequestFriendLists(); err != nil {
				return err
			}

			for i := 0; i < 3; i++ {
				select {
				case <-replies:
				case <-time.After(registerTimeout):
					return fmt.Errorf("incomplete reply from relay")
				}
			}
			return nil
		},
	}
}

func friendsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <username>",
		Short: "Send a friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return friendAction(cmd.Context(), func(s *client.Session) error {
				return s.SendFriendRequest(args[0])
			}, protocol.TypeFriendRequestSent, "Friend request sent")
		},
	}
}

func friendsAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <user-id>",
		Short: "Accept a pending friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return friendAction(cmd.Context(), func(s *client.Session) error {
				return s.AcceptFriendRequest(args[0])
			}, protocol.TypeFriendRequestAccepted, "Friend request accepted")
		},
	}
}

func friendsDeclineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decline <user-id>",
		Short: "Decline a pending friend request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return friendAction(cmd.Context(), func(s *client.Session) error {
				return s.DeclineFriendRequest(args[0])
			}, protocol.TypeFriendRequestDeclined, "Friend request declined")
		},
	}
}

// friendAction runs one friend-graph operation and waits for its ack or
// a friend_request_error.
func friendAction(parent context.Context, op func(*client.Session) error, ack protocol.EventType, okMsg string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	result := make(chan error, 1)
	events := client.SessionHandlers{
		OnFriendEvent: func(frame protocol.Frame) {
			switch frame.Type {
			case ack:
				result <- nil
			case protocol.TypeFriendRequestError:
				var ev protocol.FriendRequestError
				_ = frame.Decode(&ev)
				result <- fmt.Errorf("%s", ev.Reason)
			}
		},
	}

	session, err := connect(ctx, events, client.Handlers{})
	if err != nil {
		return err
	}
	defer session.Logout()

	if err := op(session); err != nil {
		return err
	}

	select {
	case err := <-result:
		if err != nil {
			return err
		}
		fmt.Println(okMsg)
		return nil
	case <-time.After(registerTimeout):
		return fmt.Errorf("no reply from relay")
	}
}
