package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roundtable/relay/internal/mocks"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
	"github.com/roundtable/relay/internal/testutil"
)

type fakeConn struct {
	mu     sync.Mutex
	events []any
	closed bool
}

func (c *fakeConn) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.events...)
}

func register(r *registry.Registry, userID string) (*registry.Entry, *fakeConn) {
	conn := &fakeConn{}
	entry := &registry.Entry{UserID: userID, SessionID: userID + "-session", Conn: conn}
	r.Register(entry)
	return entry, conn
}

func encryptedPayload() protocol.Payload {
	return protocol.Payload{Encrypted: true, IV: []byte("0123456789ab"), Cipher: []byte("ciphertext")}
}

func TestRouter_Route_OnlineRecipient(t *testing.T) {
	reg := registry.New()
	sender, senderConn := register(reg, "alice")
	_, bobConn := register(reg, "bob")

	messages := &mocks.MessageStore{}
	messages.On("Insert", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
		return m.SenderID == "alice" && m.RecipientID == "bob" && m.Delivered
	})).Return(nil)

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
	r.now = func() time.Time { return time.UnixMilli(1000) }

	r.Route(context.Background(), sender, protocol.SendMessage{
		TargetID: "bob",
		Payload:  encryptedPayload(),
	})

	bobEvents := bobConn.sent()
	require.Len(t, bobEvents, 1)
	incoming := bobEvents[0].(protocol.IncomingMessage)
	assert.Equal(t, "alice-bob-1000", incoming.MessageID)
	assert.False(t, incoming.Queued)

	senderEvents := senderConn.sent()
	require.Len(t, senderEvents, 1)
	confirmation := senderEvents[0].(protocol.DeliveryConfirmation)
	assert.Equal(t, "alice-bob-1000", confirmation.MessageID)
	assert.True(t, confirmation.Delivered)

	messages.AssertExpectations(t)
}

func TestRouter_Route_OfflineRecipientQueues(t *testing.T) {
	reg := registry.New()
	sender, senderConn := register(reg, "alice")

	messages := &mocks.MessageStore{}
	messages.On("Insert", mock.Anything, mock.MatchedBy(func(m model.Message) bool {
		return m.RecipientID == "bob" && !m.Delivered
	})).Return(nil)

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
	r.now = func() time.Time { return time.UnixMilli(2000) }

	r.Route(context.Background(), sender, protocol.SendMessage{
		TargetID: "bob",
		Payload:  encryptedPayload(),
	})

	events := senderConn.sent()
	require.Len(t, events, 1)
	queued := events[0].(protocol.MessageQueued)
	assert.Equal(t, "alice-bob-2000", queued.MessageID)
	assert.Equal(t, "bob", queued.TargetID)
}

func TestRouter_Route_PersistFailureReportedToSender(t *testing.T) {
	reg := registry.New()
	sender, senderConn := register(reg, "alice")

	messages := &mocks.MessageStore{}
	messages.On("Insert", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())

	r.Route(context.Background(), sender, protocol.SendMessage{
		TargetID: "bob",
		Payload:  encryptedPayload(),
	})

	events := senderConn.sent()
	require.Len(t, events, 1)
	errEvent := events[0].(protocol.ErrorEvent)
	assert.Equal(t, "Failed to queue message", errEvent.Message)
}

func TestRouter_DrainQueued(t *testing.T) {
	reg := registry.New()
	bob, bobConn := register(reg, "bob")
	_, aliceConn := register(reg, "alice")

	content, err := json.Marshal(encryptedPayload())
	require.NoError(t, err)

	queued := []model.Message{
		{
			ID:          model.MessageID{SenderID: "alice", RecipientID: "bob", UnixMilli: 100},
			SenderID:    "alice",
			RecipientID: "bob",
			Content:     content,
			Timestamp:   100,
			Delivered:   true,
		},
		{
			ID:          model.MessageID{SenderID: "alice", RecipientID: "bob", UnixMilli: 200},
			SenderID:    "alice",
			RecipientID: "bob",
			Content:     content,
			Timestamp:   200,
			Delivered:   true,
		},
	}

	messages := &mocks.MessageStore{}
	messages.On("ClaimUndelivered", mock.Anything, "bob").Return(queued, nil)

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
	r.DrainQueued(context.Background(), bob)

	bobEvents := bobConn.sent()
	require.Len(t, bobEvents, 2)
	first := bobEvents[0].(protocol.IncomingMessage)
	assert.True(t, first.Queued)
	assert.Equal(t, "alice-bob-100", first.MessageID)

	// Alice is online, so each drained message confirms back to her.
	aliceEvents := aliceConn.sent()
	require.Len(t, aliceEvents, 2)
	confirmation := aliceEvents[0].(protocol.DeliveryConfirmation)
	assert.Equal(t, "alice-bob-100", confirmation.MessageID)
}

// dyingConn accepts failAfter sends and then starts erroring, imitating
// a socket that dies mid-drain.
type dyingConn struct {
	fakeConn
	failAfter int
}

func (c *dyingConn) Send(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) >= c.failAfter {
		return errors.New("connection reset")
	}
	c.events = append(c.events, event)
	return nil
}

func TestRouter_DrainQueued_SendFailureRequeuesRemainder(t *testing.T) {
	reg := registry.New()
	bobConn := &dyingConn{failAfter: 1}
	bob := &registry.Entry{UserID: "bob", SessionID: "bob-session", Conn: bobConn}
	reg.Register(bob)
	_, aliceConn := register(reg, "alice")

	content, err := json.Marshal(encryptedPayload())
	require.NoError(t, err)

	queued := make([]model.Message, 0, 3)
	for _, ts := range []int64{100, 200, 300} {
		queued = append(queued, model.Message{
			ID:          model.MessageID{SenderID: "alice", RecipientID: "bob", UnixMilli: ts},
			SenderID:    "alice",
			RecipientID: "bob",
			Content:     content,
			Timestamp:   ts,
			Delivered:   true,
		})
	}

	messages := &mocks.MessageStore{}
	messages.On("ClaimUndelivered", mock.Anything, "bob").Return(queued, nil)
	messages.On("Requeue", mock.Anything, "alice-bob-200").Return(nil)
	messages.On("Requeue", mock.Anything, "alice-bob-300").Return(nil)

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
	r.DrainQueued(context.Background(), bob)

	// Only the first message made it out before the socket died; the
	// claimed-but-unsent rows go back in the queue for the next identify.
	bobEvents := bobConn.sent()
	require.Len(t, bobEvents, 1)
	assert.Equal(t, "alice-bob-100", bobEvents[0].(protocol.IncomingMessage).MessageID)

	aliceEvents := aliceConn.sent()
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, "alice-bob-100", aliceEvents[0].(protocol.DeliveryConfirmation).MessageID)

	messages.AssertExpectations(t)
	messages.AssertNotCalled(t, "Requeue", mock.Anything, "alice-bob-100")
}

func TestRouter_DrainQueued_Empty(t *testing.T) {
	reg := registry.New()
	bob, bobConn := register(reg, "bob")

	messages := &mocks.MessageStore{}
	messages.On("ClaimUndelivered", mock.Anything, "bob").Return([]model.Message{}, nil)

	r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
	r.DrainQueued(context.Background(), bob)

	assert.Empty(t, bobConn.sent())
}

func TestRouter_MarkRead(t *testing.T) {
	t.Run("first read confirms to online sender", func(t *testing.T) {
		reg := registry.New()
		_, aliceConn := register(reg, "alice")

		messages := &mocks.MessageStore{}
		messages.On("MarkRead", mock.Anything, "alice-bob-100").Return(true, nil)

		r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
		r.MarkRead(context.Background(), "alice-bob-100")

		events := aliceConn.sent()
		require.Len(t, events, 1)
		assert.Equal(t, "alice-bob-100", events[0].(protocol.ReadConfirmation).MessageID)
	})

	t.Run("repeat read stays silent", func(t *testing.T) {
		reg := registry.New()
		_, aliceConn := register(reg, "alice")

		messages := &mocks.MessageStore{}
		messages.On("MarkRead", mock.Anything, "alice-bob-100").Return(false, nil)

		r := NewRouter(reg, messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
		r.MarkRead(context.Background(), "alice-bob-100")

		assert.Empty(t, aliceConn.sent())
	})

	t.Run("malformed id dropped", func(t *testing.T) {
		messages := &mocks.MessageStore{}
		r := NewRouter(registry.New(), messages, &mocks.UserStore{}, testutil.MakeNoopLogger())
		r.MarkRead(context.Background(), "garbage")
		messages.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything)
	})
}

func TestRouter_History(t *testing.T) {
	content, err := json.Marshal(encryptedPayload())
	require.NoError(t, err)

	rows := make([]model.Message, 0, 3)
	for _, ts := range []int64{100, 200, 300} {
		rows = append(rows, model.Message{
			ID:          model.MessageID{SenderID: "alice", RecipientID: "bob", UnixMilli: ts},
			SenderID:    "alice",
			RecipientID: "bob",
			Content:     content,
			Timestamp:   ts,
			Delivered:   true,
		})
	}

	messages := &mocks.MessageStore{}
	messages.On("History", mock.Anything, "bob", "alice", 3, int64(0)).Return(rows, nil)

	users := &mocks.UserStore{}
	users.On("GetByID", mock.Anything, "alice").Return(model.User{UserID: "alice", PublicKey: "alice-jwk"}, nil)

	r := NewRouter(registry.New(), messages, users, testutil.MakeNoopLogger())
	reply, err := r.History(context.Background(), protocol.GetChatHistory{
		UserID:      "bob",
		OtherUserID: "alice",
		Limit:       3,
	})

	require.NoError(t, err)
	assert.Equal(t, "alice", reply.UserID)
	assert.Len(t, reply.Messages, 3)
	assert.True(t, reply.HasMore, "a full page implies an older page may exist")
	assert.Equal(t, "alice-jwk", reply.SenderPublicKey)
	assert.Equal(t, int64(100), reply.Messages[0].Timestamp, "oldest first")
}

func TestRouter_History_ShortPage(t *testing.T) {
	messages := &mocks.MessageStore{}
	messages.On("History", mock.Anything, "bob", "alice", 50, int64(0)).Return([]model.Message{}, nil)

	users := &mocks.UserStore{}
	users.On("GetByID", mock.Anything, "alice").Return(model.User{}, model.ErrNotFound)

	r := NewRouter(registry.New(), messages, users, testutil.MakeNoopLogger())
	reply, err := r.History(context.Background(), protocol.GetChatHistory{
		UserID:      "bob",
		OtherUserID: "alice",
	})

	require.NoError(t, err)
	assert.Empty(t, reply.Messages)
	assert.False(t, reply.HasMore)
	assert.Empty(t, reply.SenderPublicKey)
}
