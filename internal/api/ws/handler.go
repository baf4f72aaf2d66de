package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
	"github.com/roundtable/relay/internal/service"
)

// Handler drives one websocket connection: decode frames, dispatch to
// services, and keep the registry in sync with the connection lifecycle.
type Handler struct {
	registry  *registry.Registry
	auth      *service.Auth
	router    *service.Router
	friends   *service.Friends
	presence  *service.Presence
	userStore model.UserStore
	logger    *logger.Logger

	heartbeat time.Duration
}

func NewHandler(
	reg *registry.Registry,
	auth *service.Auth,
	router *service.Router,
	friends *service.Friends,
	presence *service.Presence,
	userStore model.UserStore,
	logger *logger.Logger,
	heartbeat time.Duration,
) *Handler {
	return &Handler{
		registry:  reg,
		auth:      auth,
		router:    router,
		friends:   friends,
		presence:  presence,
		userStore: userStore,
		logger:    logger,
		heartbeat: heartbeat,
	}
}

// Serve runs the read loop until the transport dies or ctx is canceled.
// A single bad frame is logged and dropped; only transport failure or
// explicit logout ends the session.
func (h *Handler) Serve(ctx context.Context, socket *websocket.Conn) {
	conn := newConn(socket)
	defer conn.Close()

	var entry *registry.Entry
	defer func() {
		if entry != nil && h.registry.Unregister(entry.UserID, conn) {
			h.logger.Info("WS handler: connection closed", "user_id", entry.UserID)
			h.presence.AnnounceDisconnected(ctx, entry.UserID)
		}
	}()

	pongWait := h.heartbeat * 2
	socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go h.pingLoop(pingCtx, conn)

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("WS handler: read failed", "error", err.Error())
			}
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			h.logger.Info("WS handler: dropping malformed frame", "error", err.Error())
			continue
		}

		switch frame.Type {
		case protocol.TypeIdentify:
			entry = h.handleIdentify(ctx, conn, frame, entry)

		case protocol.TypeValidateAuth:
			var req protocol.ValidateAuth
			if h.decode(frame, &req) {
				_ = conn.Send(h.auth.Validate(ctx, req))
			}

		case protocol.TypeUserLogout:
			if entry != nil && h.registry.Unregister(entry.UserID, conn) {
				h.logger.Info("WS handler: user logged out", "user_id", entry.UserID)
				h.presence.AnnounceDisconnected(ctx, entry.UserID)
			}
			entry = nil

		default:
			if entry == nil {
				_ = conn.Send(protocol.ErrorEvent{
					Type:    protocol.TypeError,
					Message: "Not identified",
				})
				continue
			}
			h.dispatch(ctx, entry, frame, conn)
		}
	}
}

// dispatch routes frames that require an identified session.
func (h *Handler) dispatch(ctx context.Context, entry *registry.Entry, frame protocol.Frame, conn *Conn) {
	switch frame.Type {
	case protocol.TypeMessage:
		var req protocol.SendMessage
		if h.decode(frame, &req) {
			h.router.Route(ctx, entry, req)
		}

	case protocol.TypeMessageRead:
		var req protocol.MessageRead
		if h.decode(frame, &req) {
			h.router.MarkRead(ctx, req.MessageID)
		}

	case protocol.TypeGetChatHistory:
		var req protocol.GetChatHistory
		if !h.decode(frame, &req) {
			return
		}
		req.UserID = entry.UserID
		reply, err := h.router.History(ctx, req)
		if err != nil {
			h.logger.Error("WS handler: history request failed",
				"user_id", entry.UserID,
				"error", err.Error())
			_ = conn.Send(protocol.ErrorEvent{
				Type:    protocol.TypeError,
				Message: "Failed to load chat history",
			})
			return
		}
		_ = conn.Send(reply)

	case protocol.TypeBroadcastPresence:
		var req protocol.BroadcastPresence
		if h.decode(frame, &req) {
			h.presence.UpdateInfo(ctx, entry, req.Payload)
		}

	case protocol.TypeSendFriendRequest:
		var req protocol.SendFriendRequest
		if h.decode(frame, &req) {
			h.friends.SendRequest(ctx, entry, req)
		}

	case protocol.TypeAcceptFriendRequest:
		var req protocol.FriendRequestAction
		if h.decode(frame, &req) {
			h.friends.AcceptRequest(ctx, entry, req)
		}

	case protocol.TypeDeclineFriendRequest:
		var req protocol.FriendRequestAction
		if h.decode(frame, &req) {
			h.friends.DeclineRequest(ctx, entry, req)
		}

	case protocol.TypeGetFriendRequests:
		reply, err := h.friends.PendingRequests(ctx, entry.UserID)
		if err != nil {
			h.logger.Error("WS handler: friend requests lookup failed",
				"user_id", entry.UserID,
				"error", err.Error())
			return
		}
		_ = conn.Send(reply)

	case protocol.TypeGetSentFriendRequests:
		reply, err := h.friends.SentRequests(ctx, entry.UserID)
		if err != nil {
			h.logger.Error("WS handler: sent requests lookup failed",
				"user_id", entry.UserID,
				"error", err.Error())
			return
		}
		_ = conn.Send(reply)

	case protocol.TypeGetFriendsList:
		reply, err := h.friends.FriendsList(ctx, entry.UserID)
		if err != nil {
			h.logger.Error("WS handler: friends list lookup failed",
				"user_id", entry.UserID,
				"error", err.Error())
			return
		}
		_ = conn.Send(reply)

	case protocol.TypeUpdateProfilePicture:
		var req protocol.UpdateProfilePicture
		if h.decode(frame, &req) {
			h.presence.UpdateProfilePicture(ctx, entry, req.ProfilePicture)
		}

	default:
		h.logger.Info("WS handler: dropping unknown event", "type", string(frame.Type))
	}
}

// handleIdentify authenticates, persists the user and completes
// registration: registered ack, queue drain, presence broadcasts.
func (h *Handler) handleIdentify(ctx context.Context, conn *Conn, frame protocol.Frame, prev *registry.Entry) *registry.Entry {
	var req protocol.Identify
	if !h.decode(frame, &req) {
		return prev
	}

	user, created, err := h.auth.Authenticate(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidCredentials):
			_ = conn.Send(protocol.SignupResult{
				Type:   protocol.TypeSignupFailed,
				Reason: "Invalid username or password",
			})
		case errors.Is(err, model.ErrInvalidUsername):
			_ = conn.Send(protocol.SignupResult{
				Type:   protocol.TypeSignupFailed,
				Reason: "Username must be 2-14 chars with only letters, numbers, dots, or underscores",
			})
		case errors.Is(err, model.ErrInvalidSession):
			_ = conn.Send(protocol.InvalidSession{
				Type:   protocol.TypeInvalidSession,
				Reason: "Session expired, please log in again",
			})
		default:
			h.logger.Error("WS handler: identify failed", "error", err.Error())
			_ = conn.Send(protocol.ErrorEvent{
				Type:    protocol.TypeError,
				Message: "Failed to identify",
			})
		}
		return prev
	}

	user, err = h.userStore.Upsert(ctx, user)
	if err != nil {
		if errors.Is(err, model.ErrUsernameTaken) {
			_ = conn.Send(protocol.SignupResult{
				Type:   protocol.TypeSignupFailed,
				Reason: "Username already taken",
			})
			return prev
		}
		h.logger.Error("WS handler: failed to persist user on identify",
			"user_id", user.UserID,
			"error", err.Error())
		_ = conn.Send(protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: "Failed to identify",
		})
		return prev
	}

	token, err := h.auth.IssueToken(user.UserID)
	if err != nil {
		h.logger.Error("WS handler: failed to issue session token",
			"user_id", user.UserID,
			"error", err.Error())
	}

	entry := &registry.Entry{
		UserID:    user.UserID,
		SessionID: req.SessionID,
		PublicKey: req.PublicKey,
		Info: model.Info{
			Name:           user.DisplayName,
			Username:       user.Username,
			ProfilePicture: user.ProfilePicture,
		},
		Conn: conn,
	}

	renamed := h.registry.Register(entry)

	h.logger.Info("WS handler: user identified",
		"user_id", user.UserID,
		"session_id", req.SessionID,
		"created", created)

	_ = conn.Send(protocol.Registered{
		Type:      protocol.TypeRegistered,
		Success:   true,
		UserID:    user.UserID,
		AuthToken: token,
	})
	if created {
		_ = conn.Send(protocol.SignupResult{
			Type:     protocol.TypeSignupSuccess,
			Username: user.Username,
			Message:  "Account created",
		})
	}

	h.router.DrainQueued(ctx, entry)

	if renamed != nil {
		// The same session now speaks for a different identity; the old
		// one goes offline in every roster.
		h.presence.AnnounceDisconnected(ctx, renamed.UserID)
	}
	h.presence.AnnounceConnected(ctx, entry)

	return entry
}

func (h *Handler) decode(frame protocol.Frame, v any) bool {
	if err := frame.Decode(v); err != nil {
		h.logger.Info("WS handler: dropping malformed event",
			"type", string(frame.Type),
			"error", err.Error())
		return false
	}
	return true
}

func (h *Handler) pingLoop(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				conn.Close()
				return
			}
		}
	}
}
