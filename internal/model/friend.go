package model

import "context"

// FriendStore defines persistence operations for the friend graph.
type FriendStore interface {
	// UpsertRequest records a pending request for the ordered pair. A
	// request that is already pending or already accepted is rejected
	// with ErrDuplicateRequest.
	UpsertRequest(ctx context.Context, senderID, receiverID string) error
	// Accept flips the pending request and creates the friendship edge in
	// both directions. Returns ErrNotFound without a pending request.
	Accept(ctx context.Context, senderID, receiverID string) error
	// Decline removes the pending request without creating an edge.
	Decline(ctx context.Context, senderID, receiverID string) error
	// PendingFor returns requests addressed to the user, newest first.
	PendingFor(ctx context.Context, receiverID string) ([]FriendRequest, error)
	// SentBy returns the user's own pending requests, newest first.
	SentBy(ctx context.Context, senderID string) ([]FriendRequest, error)
	// Friends returns ids of users with an accepted edge from userID.
	Friends(ctx context.Context, userID string) ([]string, error)
	// AreFriends reports whether an accepted edge exists for the pair.
	AreFriends(ctx context.Context, userID, otherID string) (bool, error)
}

// FriendRequest state values.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestDeclined = "declined"
)

// FriendRequest is a pending edge in the friend graph.
type FriendRequest struct {
	SenderID   string
	ReceiverID string
	Status     string
	CreatedAt  int64
}
