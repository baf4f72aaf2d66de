// Package protocol defines the JSON events exchanged between clients and
// the relay over a persistent websocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates wire events.
type EventType string

const (
	// Client → server.
	TypeIdentify              EventType = "identify"
	TypeValidateAuth          EventType = "validate_auth"
	TypeMessage               EventType = "message"
	TypeMessageRead           EventType = "message_read"
	TypeGetChatHistory        EventType = "get_chat_history"
	TypeBroadcastPresence     EventType = "broadcast_presence"
	TypeSendFriendRequest     EventType = "send_friend_request"
	TypeAcceptFriendRequest   EventType = "accept_friend_request"
	TypeDeclineFriendRequest  EventType = "decline_friend_request"
	TypeGetFriendRequests     EventType = "get_friend_requests"
	TypeGetSentFriendRequests EventType = "get_sent_friend_requests"
	TypeGetFriendsList        EventType = "get_friends_list"
	TypeUpdateProfilePicture  EventType = "update_profile_picture"
	TypeUserLogout            EventType = "user_logout"

	// Server → client.
	TypeRegistered             EventType = "registered"
	TypeInvalidSession         EventType = "invalid_session"
	TypeAuthValidation         EventType = "auth_validation"
	TypeSignupSuccess          EventType = "signup_success"
	TypeSignupFailed           EventType = "signup_failed"
	TypeDeliveryConfirmation   EventType = "message_delivery_confirmation"
	TypeMessageQueued          EventType = "message_queued"
	TypeReadConfirmation       EventType = "message_read_confirmation"
	TypeChatHistory            EventType = "chat_history"
	TypeFriendRequestReceived  EventType = "friend_request_received"
	TypeFriendRequestSent      EventType = "friend_request_sent"
	TypeFriendRequestAccepted  EventType = "friend_request_accepted"
	TypeFriendRequestDeclined  EventType = "friend_request_declined"
	TypeFriendRequestError     EventType = "friend_request_error"
	TypeFriendRequestsList     EventType = "friend_requests_list"
	TypeSentFriendRequests     EventType = "sent_friend_requests_list"
	TypeFriendsList            EventType = "friends_list"
	TypeUserConnected          EventType = "user_connected"
	TypeUserList               EventType = "user_list"
	TypeProfilePictureUpdated  EventType = "profile_picture_updated"
	TypeError                  EventType = "error"
)

// Frame is a partially decoded event: the type plus the raw bytes for a
// second, typed decode.
type Frame struct {
	Type EventType
	raw  json.RawMessage
}

// DecodeFrame reads the event type out of raw JSON.
func DecodeFrame(data []byte) (Frame, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, fmt.Errorf("decoding event: %w", err)
	}
	if head.Type == "" {
		return Frame{}, fmt.Errorf("event missing type field")
	}
	return Frame{Type: head.Type, raw: data}, nil
}

// Decode unmarshals the frame into a typed event struct.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.raw, v); err != nil {
		return fmt.Errorf("decoding %s event: %w", f.Type, err)
	}
	return nil
}

// Encode marshals a typed event for transmission.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	return data, nil
}
