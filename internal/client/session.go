// Package client implements the relay's client core: key derivation and
// the identify handshake, the reconnect loop, and the encrypt/decrypt
// message pipeline. The presentation layer sits on top of Handlers and
// SessionHandlers callbacks.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roundtable/relay/internal/config"
	"github.com/roundtable/relay/internal/keyring"
	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
)

// State names the session lifecycle phases.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateDerivingKeys  State = "deriving-keys"
	StateConnecting    State = "connecting"
	StateIdentifying   State = "identifying"
	StateIdentified    State = "identified"
)

// ErrNotConnected is returned when an operation needs a live transport.
var ErrNotConnected = errors.New("not connected to relay")

// ErrNotLoggedIn is returned when an operation needs derived keys.
var ErrNotLoggedIn = errors.New("not logged in")

// SessionHandlers receives session-level events. All callbacks are
// optional and invoked from the reader goroutine.
type SessionHandlers struct {
	OnState          func(state State)
	OnRegistered     func(userID string)
	OnSignup         func(success bool, reason string)
	OnAuthValidation func(result protocol.AuthValidation)
	OnRoster         func(users []model.Presence)
	OnInvalidSession func(reason string)
	OnFriendEvent    func(frame protocol.Frame)
	OnError          func(message string)
}

// Session owns the client identity and the connection to the relay. It
// reconnects on transport loss and re-identifies idempotently; the
// password crosses the wire only on the first identify after login,
// reconnects authenticate with the session token instead.
type Session struct {
	cfg      *config.ClientConfig
	dial     Dialer
	logger   *logger.Logger
	events   SessionHandlers
	pipeline *Pipeline

	sessionID string
	keysReady chan struct{}

	mu          sync.Mutex
	state       State
	identity    *keyring.Identity
	userID      string
	username    string
	displayName string
	password    string
	authToken   string
	transport   Transport
	loggedOut   bool
}

// NewSession creates a session with a fresh per-process session id.
func NewSession(cfg *config.ClientConfig, dial Dialer, events SessionHandlers, msgHandlers Handlers, logger *logger.Logger) *Session {
	s := &Session{
		cfg:       cfg,
		dial:      dial,
		logger:    logger,
		events:    events,
		sessionID: uuid.NewString(),
		keysReady: make(chan struct{}),
		state:     StateUninitialized,
	}
	s.pipeline = NewPipeline(nil, s.sendEvent, msgHandlers, logger)
	return s
}

// Pipeline exposes the message pipeline for the presentation layer.
func (s *Session) Pipeline() *Pipeline {
	return s.pipeline
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the identity confirmed by the last registered ack.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Login derives the key pair from credentials and arms the identify
// step. Safe to call before or after Run; an open socket waiting on
// keys identifies as soon as derivation completes.
func (s *Session) Login(username, displayName, password string) error {
	s.setState(StateDerivingKeys)

	identity, err := keyring.DeriveIdentity(username, password)
	if err != nil {
		s.setState(StateUninitialized)
		return err
	}

	s.mu.Lock()
	s.identity = identity
	s.username = username
	s.displayName = displayName
	s.password = password
	s.loggedOut = false
	s.pipeline.identity = identity
	select {
	case <-s.keysReady:
	default:
		close(s.keysReady)
	}
	s.mu.Unlock()

	s.logger.Info("Session: keys derived", "username", username)
	return nil
}

// Run drives the reconnect loop until ctx is canceled or Logout is
// called. Each pass dials, identifies once keys are available, then
// pumps inbound events; transport loss restarts the pass after the
// configured interval.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.mu.Lock()
		done := s.loggedOut
		s.mu.Unlock()
		if done || ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(StateConnecting)
		transport, err := s.dial(ctx, s.cfg.ServerURL)
		if err != nil {
			s.logger.Info("Session: connect failed, retrying",
				"error", err.Error(),
				"retry_in", s.cfg.ReconnectInterval.String())
			if !sleepCtx(ctx, s.cfg.ReconnectInterval) {
				return ctx.Err()
			}
			continue
		}

		// Socket may open before Login finishes deriving keys; the
		// identify is deferred until they exist.
		select {
		case <-s.keysReady:
		case <-ctx.Done():
			transport.Close()
			return ctx.Err()
		}

		s.mu.Lock()
		s.transport = transport
		s.mu.Unlock()

		if err := s.identify(); err != nil {
			s.logger.Error("Session: identify failed", "error", err.Error())
		}

		s.readLoop(transport)

		s.mu.Lock()
		if s.transport == transport {
			s.transport = nil
		}
		done = s.loggedOut
		s.mu.Unlock()
		transport.Close()

		if done || ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepCtx(ctx, s.cfg.ReconnectInterval) {
			return ctx.Err()
		}
	}
}

// ValidateAuth asks the relay to vet credentials before key derivation.
// The reply arrives via OnAuthValidation.
func (s *Session) ValidateAuth(username, password, mode string) error {
	return s.sendEvent(protocol.ValidateAuth{
		Type:     protocol.TypeValidateAuth,
		Username: username,
		Password: password,
		Mode:     mode,
	})
}

// SendMessage encrypts and ships text to the peer, or queues it until
// the peer's key arrives.
func (s *Session) SendMessage(peerID, text string) (queued bool, err error) {
	s.mu.Lock()
	ready := s.identity != nil
	s.mu.Unlock()
	if !ready {
		return false, ErrNotLoggedIn
	}
	return s.pipeline.Send(peerID, text)
}

// RequestHistory asks for a page of conversation history. Zero before
// requests the newest page.
func (s *Session) RequestHistory(peerID string, limit int, before int64) error {
	return s.sendEvent(protocol.GetChatHistory{
		Type:            protocol.TypeGetChatHistory,
		OtherUserID:     peerID,
		Limit:           limit,
		BeforeTimestamp: before,
	})
}

// MarkRead reports a displayed message to the relay.
func (s *Session) MarkRead(messageID string) error {
	return s.pipeline.MarkRead(messageID)
}

// SendFriendRequest initiates a friend request by username.
func (s *Session) SendFriendRequest(username string) error {
	return s.sendEvent(protocol.SendFriendRequest{
		Type:             protocol.TypeSendFriendRequest,
		ReceiverUsername: username,
	})
}

// AcceptFriendRequest accepts a pending request from senderID.
func (s *Session) AcceptFriendRequest(senderID string) error {
	return s.sendEvent(protocol.FriendRequestAction{
		Type:     protocol.TypeAcceptFriendRequest,
		SenderID: senderID,
	})
}

// DeclineFriendRequest declines a pending request from senderID.
func (s *Session) DeclineFriendRequest(senderID string) error {
	return s.sendEvent(protocol.FriendRequestAction{
		Type:     protocol.TypeDeclineFriendRequest,
		SenderID: senderID,
	})
}

// RequestFriendLists asks for pending, sent and accepted friend data.
// Replies arrive via OnFriendEvent.
func (s *Session) RequestFriendLists() error {
	for _, t := range []protocol.EventType{
		protocol.TypeGetFriendRequests,
		protocol.TypeGetSentFriendRequests,
		protocol.TypeGetFriendsList,
	} {
		if err := s.sendEvent(struct {
			Type protocol.EventType `json:"type"`
		}{Type: t}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProfilePicture persists and broadcasts a new avatar URL.
func (s *Session) UpdateProfilePicture(url string) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()
	return s.sendEvent(protocol.UpdateProfilePicture{
		Type:           protocol.TypeUpdateProfilePicture,
		UserID:         userID,
		ProfilePicture: url,
	})
}

// Logout tells the relay, wipes key material and the session token,
// and stops the reconnect loop.
func (s *Session) Logout() {
	s.mu.Lock()
	transport := s.transport
	userID := s.userID
	identity := s.identity
	s.loggedOut = true
	s.authToken = ""
	s.password = ""
	s.identity = nil
	s.mu.Unlock()

	if transport != nil {
		_ = transport.Send(protocol.UserLogout{
			Type:   protocol.TypeUserLogout,
			UserID: userID,
		})
		transport.Close()
	}
	if identity != nil {
		identity.Destroy()
	}
	s.pipeline.Reset()
	s.setState(StateUninitialized)
	s.logger.Info("Session: logged out", "user_id", userID)
}

func (s *Session) identify() error {
	s.setState(StateIdentifying)

	s.mu.Lock()
	identity := s.identity
	username := s.username
	displayName := s.displayName
	password := s.password
	token := s.authToken
	userID := s.userID
	s.mu.Unlock()

	if identity == nil {
		return ErrNotLoggedIn
	}
	if userID == "" {
		userID = username
	}
	if displayName == "" {
		displayName = username
	}

	publicKey, err := identity.PublicJWK(username)
	if err != nil {
		return err
	}

	req := protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    userID,
		SessionID: s.sessionID,
		PublicKey: publicKey,
		AuthToken: token,
		Info: model.Info{
			Name:     displayName,
			Username: username,
		},
	}
	// Password rides along only until the first registered ack; after
	// that the session token authenticates reconnects.
	if token == "" {
		req.Password = password
	}

	return s.sendEvent(req)
}

func (s *Session) readLoop(transport Transport) {
	for {
		data, err := transport.Receive()
		if err != nil {
			s.logger.Info("Session: transport lost", "error", err.Error())
			return
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			s.logger.Info("Session: dropping malformed frame", "error", err.Error())
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame protocol.Frame) {
	switch frame.Type {
	case protocol.TypeRegistered:
		var ev protocol.Registered
		if frame.Decode(&ev) != nil {
			return
		}
		s.mu.Lock()
		s.userID = ev.UserID
		if ev.AuthToken != "" {
			s.authToken = ev.AuthToken
		}
		s.password = ""
		s.mu.Unlock()
		s.setState(StateIdentified)
		s.logger.Info("Session: identified", "user_id", ev.UserID)
		if s.events.OnRegistered != nil {
			s.events.OnRegistered(ev.UserID)
		}

	case protocol.TypeInvalidSession:
		var ev protocol.InvalidSession
		_ = frame.Decode(&ev)
		s.mu.Lock()
		s.authToken = ""
		s.mu.Unlock()
		s.logger.Info("Session: session rejected", "reason", ev.Reason)
		if s.events.OnInvalidSession != nil {
			s.events.OnInvalidSession(ev.Reason)
		}

	case protocol.TypeAuthValidation:
		var ev protocol.AuthValidation
		if frame.Decode(&ev) == nil && s.events.OnAuthValidation != nil {
			s.events.OnAuthValidation(ev)
		}

	case protocol.TypeSignupSuccess, protocol.TypeSignupFailed:
		var ev protocol.SignupResult
		if frame.Decode(&ev) == nil && s.events.OnSignup != nil {
			s.events.OnSignup(frame.Type == protocol.TypeSignupSuccess, ev.Reason)
		}

	case protocol.TypeMessage:
		var ev protocol.IncomingMessage
		if frame.Decode(&ev) == nil {
			s.pipeline.HandleIncoming(ev)
		}

	case protocol.TypeDeliveryConfirmation:
		var ev protocol.DeliveryConfirmation
		if frame.Decode(&ev) == nil {
			s.pipeline.ConfirmDelivery(ev)
		}

	case protocol.TypeMessageQueued:
		var ev protocol.MessageQueued
		if frame.Decode(&ev) == nil {
			s.pipeline.ConfirmQueued(ev)
		}

	case protocol.TypeReadConfirmation:
		var ev protocol.ReadConfirmation
		if frame.Decode(&ev) == nil {
			s.pipeline.ConfirmRead(ev)
		}

	case protocol.TypeChatHistory:
		var ev protocol.ChatHistory
		if frame.Decode(&ev) == nil {
			s.pipeline.MergeHistory(s.UserID(), ev)
		}

	case protocol.TypeUserList:
		var ev protocol.UserList
		if frame.Decode(&ev) != nil {
			return
		}
		s.installPeerKeys(ev.Users)
		if s.events.OnRoster != nil {
			s.events.OnRoster(ev.Users)
		}

	case protocol.TypeUserConnected:
		var ev protocol.UserConnected
		if frame.Decode(&ev) != nil {
			return
		}
		s.installPeerKeys([]model.Presence{ev.User})

	case protocol.TypeFriendRequestReceived, protocol.TypeFriendRequestSent,
		protocol.TypeFriendRequestAccepted, protocol.TypeFriendRequestDeclined,
		protocol.TypeFriendRequestError, protocol.TypeFriendRequestsList,
		protocol.TypeSentFriendRequests, protocol.TypeFriendsList,
		protocol.TypeProfilePictureUpdated:
		if s.events.OnFriendEvent != nil {
			s.events.OnFriendEvent(frame)
		}

	case protocol.TypeError:
		var ev protocol.ErrorEvent
		if frame.Decode(&ev) == nil && s.events.OnError != nil {
			s.events.OnError(ev.Message)
		}

	default:
		s.logger.Debug("Session: ignoring event", "type", string(frame.Type))
	}
}

func (s *Session) installPeerKeys(users []model.Presence) {
	self := s.UserID()
	for _, user := range users {
		if user.UserID == self || user.PublicKey == "" {
			continue
		}
		if err := s.pipeline.SetPeerKey(user.UserID, user.PublicKey); err != nil {
			s.logger.Info("Session: failed to install peer key",
				"peer_id", user.UserID,
				"error", err.Error())
		}
	}
}

func (s *Session) sendEvent(event any) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return ErrNotConnected
	}
	return transport.Send(event)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.events.OnState != nil {
		s.events.OnState(state)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
