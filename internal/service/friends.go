package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
)

// Friends manages the friend request lifecycle and notifies the online
// half of each pair as requests move through it.
type Friends struct {
	registry    *registry.Registry
	friendStore model.FriendStore
	userStore   model.UserStore
	logger      *logger.Logger
}

func NewFriends(reg *registry.Registry, friendStore model.FriendStore, userStore model.UserStore, logger *logger.Logger) *Friends {
	return &Friends{
		registry:    reg,
		friendStore: friendStore,
		userStore:   userStore,
		logger:      logger,
	}
}

// SendRequest resolves the receiver by username, records the pending
// request, confirms to the sender and notifies the receiver if online.
func (f *Friends) SendRequest(ctx context.Context, sender *registry.Entry, req protocol.SendFriendRequest) {
	username := strings.TrimSpace(req.ReceiverUsername)
	if username == "" {
		f.sendError(sender, "Username is required")
		return
	}

	receiver, err := f.userStore.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			f.sendError(sender, "User not found")
			return
		}
		f.logger.Error("Friends service: failed to resolve receiver",
			"username", username,
			"error", err.Error())
		f.sendError(sender, "Failed to send friend request")
		return
	}

	if receiver.UserID == sender.UserID {
		f.sendError(sender, "Cannot send friend request to yourself")
		return
	}

	err = f.friendStore.UpsertRequest(ctx, sender.UserID, receiver.UserID)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateRequest) {
			f.sendError(sender, "Friend request already exists")
			return
		}
		f.logger.Error("Friends service: failed to record request",
			"sender_id", sender.UserID,
			"receiver_id", receiver.UserID,
			"error", err.Error())
		f.sendError(sender, "Failed to send friend request")
		return
	}

	f.logger.Info("Friends service: friend request sent",
		"sender_id", sender.UserID,
		"receiver_id", receiver.UserID)

	_ = sender.Conn.Send(protocol.FriendRequestSent{
		Type:             protocol.TypeFriendRequestSent,
		ReceiverUsername: receiver.Username,
		ReceiverID:       receiver.UserID,
	})

	if target, online := f.registry.Lookup(receiver.UserID); online {
		_ = target.Conn.Send(protocol.FriendRequestReceived{
			Type:              protocol.TypeFriendRequestReceived,
			SenderID:          sender.UserID,
			SenderUsername:    sender.Info.Username,
			SenderDisplayName: sender.Info.Name,
		})
	}
}

// AcceptRequest creates the friendship edge and notifies both parties.
func (f *Friends) AcceptRequest(ctx context.Context, receiver *registry.Entry, req protocol.FriendRequestAction) {
	err := f.friendStore.Accept(ctx, req.SenderID, receiver.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			f.sendError(receiver, "Friend request not found")
			return
		}
		f.logger.Error("Friends service: failed to accept request",
			"sender_id", req.SenderID,
			"receiver_id", receiver.UserID,
			"error", err.Error())
		f.sendError(receiver, "Failed to accept friend request")
		return
	}

	f.logger.Info("Friends service: friend request accepted",
		"sender_id", req.SenderID,
		"receiver_id", receiver.UserID)

	_ = receiver.Conn.Send(protocol.FriendRequestResolved{
		Type:     protocol.TypeFriendRequestAccepted,
		FriendID: req.SenderID,
	})

	if sender, online := f.registry.Lookup(req.SenderID); online {
		_ = sender.Conn.Send(protocol.FriendRequestResolved{
			Type:     protocol.TypeFriendRequestAccepted,
			FriendID: receiver.UserID,
		})
	}
}

// DeclineRequest drops the pending request and notifies both parties.
func (f *Friends) DeclineRequest(ctx context.Context, receiver *registry.Entry, req protocol.FriendRequestAction) {
	err := f.friendStore.Decline(ctx, req.SenderID, receiver.UserID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			f.sendError(receiver, "Friend request not found")
			return
		}
		f.logger.Error("Friends service: failed to decline request",
			"sender_id", req.SenderID,
			"receiver_id", receiver.UserID,
			"error", err.Error())
		f.sendError(receiver, "Failed to decline friend request")
		return
	}

	_ = receiver.Conn.Send(protocol.FriendRequestResolved{
		Type:     protocol.TypeFriendRequestDeclined,
		FriendID: req.SenderID,
	})

	if sender, online := f.registry.Lookup(req.SenderID); online {
		_ = sender.Conn.Send(protocol.FriendRequestResolved{
			Type:     protocol.TypeFriendRequestDeclined,
			FriendID: receiver.UserID,
		})
	}
}

// PendingRequests lists requests addressed to the user, enriched with the
// sender's current profile so the UI can render them without extra round
// trips.
func (f *Friends) PendingRequests(ctx context.Context, userID string) (protocol.FriendRequestsList, error) {
	pending, err := f.friendStore.PendingFor(ctx, userID)
	if err != nil {
		return protocol.FriendRequestsList{}, fmt.Errorf("failed to list friend requests: %w", err)
	}

	reply := protocol.FriendRequestsList{
		Type:     protocol.TypeFriendRequestsList,
		Requests: make([]protocol.PendingRequest, 0, len(pending)),
	}
	for _, r := range pending {
		entry := protocol.PendingRequest{
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			CreatedAt:  r.CreatedAt,
		}
		if sender, err := f.userStore.GetByID(ctx, r.SenderID); err == nil {
			entry.SenderUsername = sender.Username
			entry.SenderDisplayName = sender.DisplayName
		}
		reply.Requests = append(reply.Requests, entry)
	}

	return reply, nil
}

// SentRequests lists the user's own pending requests, enriched with the
// receiver's current profile.
func (f *Friends) SentRequests(ctx context.Context, userID string) (protocol.SentFriendRequestsList, error) {
	sent, err := f.friendStore.SentBy(ctx, userID)
	if err != nil {
		return protocol.SentFriendRequestsList{}, fmt.Errorf("failed to list sent friend requests: %w", err)
	}

	reply := protocol.SentFriendRequestsList{
		Type:     protocol.TypeSentFriendRequests,
		Requests: make([]protocol.SentRequest, 0, len(sent)),
	}
	for _, r := range sent {
		entry := protocol.SentRequest{
			ReceiverID: r.ReceiverID,
			CreatedAt:  r.CreatedAt,
		}
		if receiver, err := f.userStore.GetByID(ctx, r.ReceiverID); err == nil {
			entry.ReceiverUsername = receiver.Username
			entry.ReceiverDisplayName = receiver.DisplayName
		}
		reply.Requests = append(reply.Requests, entry)
	}

	return reply, nil
}

// FriendsList returns the ids of the user's accepted friends.
func (f *Friends) FriendsList(ctx context.Context, userID string) (protocol.FriendsList, error) {
	ids, err := f.friendStore.Friends(ctx, userID)
	if err != nil {
		return protocol.FriendsList{}, fmt.Errorf("failed to list friends: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return protocol.FriendsList{
		Type:    protocol.TypeFriendsList,
		Friends: ids,
	}, nil
}

func (f *Friends) sendError(entry *registry.Entry, reason string) {
	_ = entry.Conn.Send(protocol.FriendRequestError{
		Type:   protocol.TypeFriendRequestError,
		Reason: reason,
	})
}
