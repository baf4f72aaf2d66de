package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roundtable/relay/internal/mocks"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
	"github.com/roundtable/relay/internal/service"
	"github.com/roundtable/relay/internal/testutil"
	"github.com/roundtable/relay/internal/token"
)

type handlerFixture struct {
	userStore    *mocks.UserStore
	messageStore *mocks.MessageStore
	friendStore  *mocks.FriendStore
	server       *httptest.Server
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	log := testutil.MakeNoopLogger()
	userStore := &mocks.UserStore{}
	messageStore := &mocks.MessageStore{}
	friendStore := &mocks.FriendStore{}

	reg := registry.New()
	tokens := token.NewJWT("test-secret")
	auth := service.NewAuth(userStore, tokens, log)
	router := service.NewRouter(reg, messageStore, userStore, log)
	friends := service.NewFriends(reg, friendStore, userStore, log)
	presence := service.NewPresence(reg, userStore, log)

	handler := NewHandler(reg, auth, router, friends, presence, userStore, log, time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		socket, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		go handler.Serve(context.WithoutCancel(r.Context()), socket)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &handlerFixture{
		userStore:    userStore,
		messageStore: messageStore,
		friendStore:  friendStore,
		server:       server,
	}
}

func (f *handlerFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { socket.Close() })
	return socket
}

func sendEvent(t *testing.T, socket *websocket.Conn, event any) {
	t.Helper()
	data, err := protocol.Encode(event)
	require.NoError(t, err)
	require.NoError(t, socket.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, socket *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, socket.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := socket.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

func TestHandler_IdentifySignup(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "alice").
		Return(model.User{}, model.ErrNotFound)
	f.userStore.On("Upsert", mock.Anything, mock.Anything).
		Return(model.User{UserID: "alice", Username: "alice", DisplayName: "Alice"}, nil)
	f.userStore.On("List", mock.Anything).Return([]model.User{}, nil)
	f.userStore.On("TouchLastSeen", mock.Anything, "alice", mock.Anything).Return(nil)
	f.messageStore.On("ClaimUndelivered", mock.Anything, "alice").
		Return([]model.Message{}, nil)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    "alice",
		SessionID: "alice-session",
		PublicKey: "alice-jwk",
		Password:  "secret",
		Info:      model.Info{Name: "Alice", Username: "alice"},
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeRegistered, frame.Type)
	var registered protocol.Registered
	require.NoError(t, frame.Decode(&registered))
	assert.True(t, registered.Success)
	assert.Equal(t, "alice", registered.UserID)
	assert.NotEmpty(t, registered.AuthToken)

	frame = readFrame(t, socket)
	require.Equal(t, protocol.TypeSignupSuccess, frame.Type)

	frame = readFrame(t, socket)
	require.Equal(t, protocol.TypeUserList, frame.Type)
	var roster protocol.UserList
	require.NoError(t, frame.Decode(&roster))
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "alice", roster.Users[0].UserID)
	assert.Equal(t, model.StatusOnline, roster.Users[0].Status)
}

func TestHandler_IdentifyRejectsDashedUserID(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "mary-jane").
		Return(model.User{}, model.ErrNotFound)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    "mary-jane",
		SessionID: "mary-session",
		PublicKey: "mary-jwk",
		Password:  "secret",
		Info:      model.Info{Name: "Mary Jane", Username: "mary-jane"},
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeSignupFailed, frame.Type)
	var rejected protocol.SignupResult
	require.NoError(t, frame.Decode(&rejected))
	assert.Equal(t, "Username must be 2-14 chars with only letters, numbers, dots, or underscores", rejected.Reason)

	// The account must not be created.
	f.userStore.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestHandler_IdentifyUsernameTaken(t *testing.T) {
	f := newHandlerFixture(t)

	// Two concurrent signups can both pass the availability lookup; the
	// unique index decides the loser at write time.
	f.userStore.On("GetByUsername", mock.Anything, "Alice").
		Return(model.User{}, model.ErrNotFound)
	f.userStore.On("Upsert", mock.Anything, mock.Anything).
		Return(model.User{}, model.ErrUsernameTaken)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    "Alice",
		SessionID: "alice-session",
		PublicKey: "alice-jwk",
		Password:  "secret",
		Info:      model.Info{Name: "Alice", Username: "Alice"},
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeSignupFailed, frame.Type)
	var rejected protocol.SignupResult
	require.NoError(t, frame.Decode(&rejected))
	assert.Equal(t, "Username already taken", rejected.Reason)
}

func TestHandler_IdentifyStaleSession(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "ghost").
		Return(model.User{}, model.ErrNotFound)

	socket := f.dial(t)
	// No password and no token: the account does not exist, so this is
	// stale client state.
	sendEvent(t, socket, protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    "ghost",
		SessionID: "ghost-session",
		PublicKey: "ghost-jwk",
		Info:      model.Info{Name: "Ghost", Username: "ghost"},
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeInvalidSession, frame.Type)
	var rejected protocol.InvalidSession
	require.NoError(t, frame.Decode(&rejected))
	assert.Equal(t, "Session expired, please log in again", rejected.Reason)
}

func TestHandler_RequiresIdentify(t *testing.T) {
	f := newHandlerFixture(t)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.SendMessage{
		Type:     protocol.TypeMessage,
		TargetID: "bob",
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeError, frame.Type)
	var ev protocol.ErrorEvent
	require.NoError(t, frame.Decode(&ev))
	assert.Equal(t, "Not identified", ev.Message)
}

func TestHandler_ValidateAuthWithoutIdentify(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "newuser").
		Return(model.User{}, model.ErrNotFound)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.ValidateAuth{
		Type:     protocol.TypeValidateAuth,
		Username: "newuser",
		Mode:     service.ModeSignup,
	})

	frame := readFrame(t, socket)
	require.Equal(t, protocol.TypeAuthValidation, frame.Type)
	var reply protocol.AuthValidation
	require.NoError(t, frame.Decode(&reply))
	assert.True(t, reply.Valid)
	assert.Equal(t, service.ModeSignup, reply.Mode)
}

func TestHandler_DropsMalformedFrame(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "newuser").
		Return(model.User{}, model.ErrNotFound)

	socket := f.dial(t)
	require.NoError(t, socket.WriteMessage(websocket.TextMessage, []byte("not json")))

	// The connection must survive a garbage frame.
	sendEvent(t, socket, protocol.ValidateAuth{
		Type:     protocol.TypeValidateAuth,
		Username: "newuser",
		Mode:     service.ModeSignup,
	})
	frame := readFrame(t, socket)
	assert.Equal(t, protocol.TypeAuthValidation, frame.Type)
}

func TestHandler_UnknownEventAfterIdentify(t *testing.T) {
	f := newHandlerFixture(t)

	f.userStore.On("GetByUsername", mock.Anything, "alice").
		Return(model.User{}, model.ErrNotFound)
	f.userStore.On("Upsert", mock.Anything, mock.Anything).
		Return(model.User{UserID: "alice", Username: "alice", DisplayName: "Alice"}, nil)
	f.userStore.On("List", mock.Anything).Return([]model.User{}, nil)
	f.userStore.On("TouchLastSeen", mock.Anything, "alice", mock.Anything).Return(nil)
	f.messageStore.On("ClaimUndelivered", mock.Anything, "alice").
		Return([]model.Message{}, nil)

	socket := f.dial(t)
	sendEvent(t, socket, protocol.Identify{
		Type:      protocol.TypeIdentify,
		UserID:    "alice",
		SessionID: "alice-session",
		PublicKey: "alice-jwk",
		Password:  "secret",
		Info:      model.Info{Name: "Alice", Username: "alice"},
	})

	// Drain registered, signup ack and roster.
	for i := 0; i < 3; i++ {
		readFrame(t, socket)
	}

	f.friendStore.On("Friends", mock.Anything, "alice").Return([]string{}, nil)

	// Unknown types are logged and dropped; a later request still works.
	require.NoError(t, socket.WriteMessage(websocket.TextMessage,
		mustJSON(t, map[string]string{"type": "no_such_event"})))

	sendEvent(t, socket, struct {
		Type protocol.EventType `json:"type"`
	}{Type: protocol.TypeGetFriendsList})

	frame := readFrame(t, socket)
	assert.Equal(t, protocol.TypeFriendsList, frame.Type)
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
