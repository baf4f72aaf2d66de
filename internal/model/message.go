package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageStore defines persistence operations for messages.
type MessageStore interface {
	Insert(ctx context.Context, msg Message) error
	// ClaimUndelivered atomically flips queued messages for a recipient to
	// delivered and returns them oldest first. Two concurrent identifies
	// from duplicate tabs each receive a disjoint (typically empty) set,
	// so the offline queue never double-delivers.
	ClaimUndelivered(ctx context.Context, recipientID string) ([]Message, error)
	// Requeue returns a claimed-but-unpushed message to the undelivered
	// queue after a failed send. Read messages are left alone.
	Requeue(ctx context.Context, messageID string) error
	// MarkRead flips the read flag (and implicitly delivered) and reports
	// whether the row transitioned, so repeated reads stay idempotent.
	MarkRead(ctx context.Context, messageID string) (bool, error)
	// History returns up to limit messages between two users older than
	// before (zero before means newest page), oldest first.
	History(ctx context.Context, userID, otherUserID string, limit int, before int64) ([]Message, error)
}

// Message is an immutable routed message. Content is the encrypted
// envelope as stored; the relay never sees plaintext.
type Message struct {
	ID          MessageID
	SenderID    string
	RecipientID string
	Content     []byte
	Timestamp   int64
	Delivered   bool
	Read        bool
}

// MessageID is the derived message identifier. It doubles as a sort key
// and as the correlation key for delivery and read acknowledgments: the
// sender and the send time can be recovered from the id alone.
//
// Two sends by one sender to one recipient within the same millisecond
// would collide; sends are serialized per connection, which bounds the
// hazard to a single client emitting twice in one millisecond.
type MessageID struct {
	SenderID    string
	RecipientID string
	UnixMilli   int64
}

// NewMessageID derives the id for a message sent now.
func NewMessageID(senderID, recipientID string, at time.Time) MessageID {
	return MessageID{
		SenderID:    senderID,
		RecipientID: recipientID,
		UnixMilli:   at.UnixMilli(),
	}
}

// String formats the id as senderId-recipientId-millis, the wire
// convention every peer relies on.
func (id MessageID) String() string {
	return fmt.Sprintf("%s-%s-%d", id.SenderID, id.RecipientID, id.UnixMilli)
}

// ParseMessageID parses the senderId-recipientId-millis convention.
// User ids never contain dashes (enforced at signup), so the split is
// unambiguous.
func ParseMessageID(s string) (MessageID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return MessageID{}, fmt.Errorf("malformed message id %q", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return MessageID{}, fmt.Errorf("malformed message id %q: empty participant", s)
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return MessageID{}, fmt.Errorf("malformed message id %q: bad timestamp: %w", s, err)
	}
	return MessageID{SenderID: parts[0], RecipientID: parts[1], UnixMilli: millis}, nil
}
