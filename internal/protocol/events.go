package protocol

import "github.com/roundtable/relay/internal/model"

// Payload is the encrypted content envelope carried inside message
// events. Text is only set for unencrypted legacy content; Encrypted
// payloads carry the IV and ciphertext and nothing else.
type Payload struct {
	Encrypted bool   `json:"encrypted"`
	IV        []byte `json:"iv,omitempty"`
	Cipher    []byte `json:"cipher,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Identify binds a user to the current connection. Password is present
// only on first login/signup; reconnects carry the session token issued
// in the Registered reply instead.
type Identify struct {
	Type      EventType  `json:"type"`
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId"`
	PublicKey string     `json:"publicKey"`
	Password  string     `json:"password,omitempty"`
	AuthToken string     `json:"authToken,omitempty"`
	Info      model.Info `json:"info"`
}

// Registered acknowledges a successful identify.
type Registered struct {
	Type      EventType `json:"type"`
	Success   bool      `json:"success"`
	UserID    string    `json:"userId"`
	AuthToken string    `json:"authToken,omitempty"`
}

// InvalidSession rejects an identify that cannot be matched to an account.
type InvalidSession struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason"`
}

// ValidateAuth asks the relay to vet credentials before key derivation.
type ValidateAuth struct {
	Type     EventType `json:"type"`
	Username string    `json:"username"`
	Password string    `json:"password,omitempty"`
	Mode     string    `json:"mode"`
}

// AuthValidation answers a ValidateAuth request.
type AuthValidation struct {
	Type     EventType `json:"type"`
	Valid    bool      `json:"valid"`
	Mode     string    `json:"mode,omitempty"`
	Username string    `json:"username,omitempty"`
	UserID   string    `json:"userId,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// SignupResult reports account creation during identify.
type SignupResult struct {
	Type     EventType `json:"type"`
	Username string    `json:"username,omitempty"`
	Message  string    `json:"message,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// SendMessage is the outbound message event from a client.
type SendMessage struct {
	Type     EventType `json:"type"`
	TargetID string    `json:"targetId"`
	Payload  Payload   `json:"payload"`
}

// IncomingMessage is the message event delivered to a recipient. Queued
// marks offline-queue drains so clients skip re-notifying for old mail.
type IncomingMessage struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
	SenderID  string    `json:"senderId"`
	Payload   Payload   `json:"payload"`
	Timestamp int64     `json:"timestamp"`
	Queued    bool      `json:"queued,omitempty"`
}

// DeliveryConfirmation tells a sender their message reached the recipient.
type DeliveryConfirmation struct {
	Type        EventType `json:"type"`
	MessageID   string    `json:"messageId"`
	RecipientID string    `json:"recipientId"`
	Delivered   bool      `json:"delivered"`
}

// MessageQueued tells a sender their message was durably queued for an
// offline recipient. Distinct from delivery: the UI shows these apart.
type MessageQueued struct {
	Type      EventType `json:"type"`
	TargetID  string    `json:"targetId"`
	MessageID string    `json:"messageId"`
}

// MessageRead reports that the recipient's client displayed the message.
type MessageRead struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
}

// ReadConfirmation forwards a read receipt to the original sender.
type ReadConfirmation struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
}

// GetChatHistory requests a page of conversation history. BeforeTimestamp
// is a keyset cursor: zero means the newest page, otherwise rows strictly
// older than the oldest already loaded.
type GetChatHistory struct {
	Type            EventType `json:"type"`
	UserID          string    `json:"userId"`
	OtherUserID     string    `json:"otherUserId"`
	Limit           int       `json:"limit,omitempty"`
	BeforeTimestamp int64     `json:"before_timestamp,omitempty"`
}

// HistoryMessage is one stored message in a ChatHistory reply.
type HistoryMessage struct {
	MessageID   string  `json:"messageId"`
	SenderID    string  `json:"senderId"`
	RecipientID string  `json:"recipientId"`
	Content     Payload `json:"content"`
	Timestamp   int64   `json:"timestamp"`
	Delivered   bool    `json:"delivered"`
	Read        bool    `json:"read"`
}

// ChatHistory answers GetChatHistory, oldest first.
type ChatHistory struct {
	Type            EventType        `json:"type"`
	UserID          string           `json:"userId"`
	Messages        []HistoryMessage `json:"messages"`
	HasMore         bool             `json:"hasMore"`
	SenderPublicKey string           `json:"senderPublicKey,omitempty"`
}

// BroadcastPresence pushes updated profile info from a connected client.
type BroadcastPresence struct {
	Type    EventType  `json:"type"`
	Payload model.Info `json:"payload"`
}

// SendFriendRequest initiates a friend request by username.
type SendFriendRequest struct {
	Type             EventType `json:"type"`
	ReceiverUsername string    `json:"receiverUsername"`
}

// FriendRequestSent confirms a request back to its sender.
type FriendRequestSent struct {
	Type             EventType `json:"type"`
	ReceiverUsername string    `json:"receiverUsername"`
	ReceiverID       string    `json:"receiverId"`
}

// FriendRequestReceived notifies an online receiver of a new request.
type FriendRequestReceived struct {
	Type              EventType `json:"type"`
	SenderID          string    `json:"senderId"`
	SenderUsername    string    `json:"senderUsername"`
	SenderDisplayName string    `json:"senderDisplayName"`
}

// FriendRequestAction accepts or declines a pending request.
type FriendRequestAction struct {
	Type     EventType `json:"type"`
	SenderID string    `json:"senderId"`
}

// FriendRequestResolved notifies both parties of an accept or decline.
type FriendRequestResolved struct {
	Type     EventType `json:"type"`
	FriendID string    `json:"friendId"`
}

// FriendRequestError reports a failed friend-graph operation.
type FriendRequestError struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason"`
}

// PendingRequest is one entry in a FriendRequestsList.
type PendingRequest struct {
	SenderID          string `json:"sender_id"`
	SenderUsername    string `json:"sender_username"`
	SenderDisplayName string `json:"sender_display_name"`
	ReceiverID        string `json:"receiver_id"`
	CreatedAt         int64  `json:"created_at"`
}

// FriendRequestsList answers GetFriendRequests.
type FriendRequestsList struct {
	Type     EventType        `json:"type"`
	Requests []PendingRequest `json:"requests"`
}

// SentRequest is one entry in a SentFriendRequestsList.
type SentRequest struct {
	ReceiverID          string `json:"receiver_id"`
	ReceiverUsername    string `json:"receiver_username"`
	ReceiverDisplayName string `json:"receiver_display_name"`
	CreatedAt           int64  `json:"created_at"`
}

// SentFriendRequestsList answers GetSentFriendRequests.
type SentFriendRequestsList struct {
	Type     EventType     `json:"type"`
	Requests []SentRequest `json:"requests"`
}

// FriendsList answers GetFriendsList with accepted friend ids.
type FriendsList struct {
	Type    EventType `json:"type"`
	Friends []string  `json:"friends"`
}

// UpdateProfilePicture persists and broadcasts a new avatar URL.
type UpdateProfilePicture struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"userId"`
	ProfilePicture string    `json:"profilePicture"`
}

// ProfilePictureUpdated broadcasts an avatar change.
type ProfilePictureUpdated struct {
	Type           EventType `json:"type"`
	UserID         string    `json:"userId"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	Timestamp      int64     `json:"timestamp,omitempty"`
	Success        bool      `json:"success,omitempty"`
}

// UserLogout explicitly ends a session.
type UserLogout struct {
	Type   EventType `json:"type"`
	UserID string    `json:"userId"`
}

// UserConnected is the incremental presence broadcast.
type UserConnected struct {
	Type EventType      `json:"type"`
	User model.Presence `json:"user"`
}

// UserList is the full roster resync broadcast on any registry change.
type UserList struct {
	Type  EventType        `json:"type"`
	Users []model.Presence `json:"users"`
}

// ErrorEvent reports a failed operation without closing the connection.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}
