package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/roundtable/relay/internal/keyring"
	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
)

// UndecryptablePlaceholder stands in for message text that failed
// authentication or decryption. The conversation stays usable; only the
// affected message is opaque.
const UndecryptablePlaceholder = "[Unable to decrypt message]"

// confirmationTolerance bounds the clock skew allowed when matching a
// server-issued message id against a locally recorded send.
const confirmationTolerance = 2 * time.Second

// Message is a decrypted message as handed to the presentation layer.
type Message struct {
	ID        string
	SenderID  string
	PeerID    string
	Text      string
	Timestamp int64
	Queued    bool
	Delivered bool
	Read      bool
	Decrypted bool
}

// Handlers receives pipeline output. All callbacks are optional and are
// invoked from transport goroutines; implementations must not block.
type Handlers struct {
	OnMessage   func(msg Message)
	OnDelivered func(messageID string)
	OnQueuedAck func(messageID, targetID string)
	OnRead      func(messageID string)
	OnHistory   func(peerID string, messages []Message, hasMore bool)
}

// PlaintextCache persists decrypted conversation history locally so a
// conversation renders before any relay round trip. Implemented by the
// presentation layer; the pipeline writes every message it successfully
// encrypts or decrypts.
type PlaintextCache interface {
	Load(peerID string) []Message
	Store(msg Message)
}

// PeerKeyCache persists serialized peer public keys across runs so
// shared keys derive before the roster arrives.
type PeerKeyCache interface {
	Get(peerID string) (string, bool)
	Put(peerID, serialized string)
}

type pendingOutbound struct {
	text     string
	queuedAt time.Time
}

type sentRecord struct {
	messageID string
	peerID    string
	unixMilli int64
}

// Pipeline encrypts outbound and decrypts inbound message traffic. It
// owns the shared-key cache, the keyed pending-outbound queue for peers
// whose key has not arrived yet, and inbound deduplication.
type Pipeline struct {
	identity *keyring.Identity
	send     func(event any) error
	logger   *logger.Logger
	handlers Handlers

	// Optional local caches; nil disables them.
	plaintexts PlaintextCache
	peerKeys   PeerKeyCache

	mu       sync.Mutex
	keys     map[string][]byte
	rawKeys  map[string]string
	pending  map[string][]pendingOutbound
	seen     map[string]struct{}
	lastSeen map[string]int64
	sent     []sentRecord
	convMu   map[string]*sync.Mutex
	now      func() time.Time
}

func NewPipeline(identity *keyring.Identity, send func(event any) error, handlers Handlers, logger *logger.Logger) *Pipeline {
	return &Pipeline{
		identity: identity,
		send:     send,
		logger:   logger,
		handlers: handlers,
		keys:     make(map[string][]byte),
		rawKeys:  make(map[string]string),
		pending:  make(map[string][]pendingOutbound),
		seen:     make(map[string]struct{}),
		lastSeen: make(map[string]int64),
		convMu:   make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// AttachCaches wires the optional local plaintext and peer-key caches.
// Call before the session connects.
func (p *Pipeline) AttachCaches(plaintexts PlaintextCache, peerKeys PeerKeyCache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plaintexts = plaintexts
	p.peerKeys = peerKeys
}

// CachedHistory returns locally cached plaintext for the conversation,
// oldest first. Empty without an attached cache.
func (p *Pipeline) CachedHistory(peerID string) []Message {
	p.mu.Lock()
	cache := p.plaintexts
	p.mu.Unlock()
	if cache == nil {
		return nil
	}
	return cache.Load(peerID)
}

// SetPeerKey installs a peer's serialized public key, derives the shared
// AES key, and replays any messages queued while the key was missing.
// Replay is keyed to this peer only.
func (p *Pipeline) SetPeerKey(peerID, serialized string) error {
	if peerID == "" || serialized == "" {
		return nil
	}

	p.mu.Lock()
	if p.rawKeys[peerID] == serialized {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	pub, err := keyring.DecodePublicKey(serialized)
	if err != nil {
		return fmt.Errorf("failed to decode peer key: %w", err)
	}
	shared, err := p.identity.SharedSecret(pub)
	if err != nil {
		return fmt.Errorf("failed to derive shared key: %w", err)
	}

	p.mu.Lock()
	p.keys[peerID] = shared
	p.rawKeys[peerID] = serialized
	queued := p.pending[peerID]
	delete(p.pending, peerID)
	keyCache := p.peerKeys
	p.mu.Unlock()

	if keyCache != nil {
		keyCache.Put(peerID, serialized)
	}

	for _, msg := range queued {
		if err := p.sendEncrypted(peerID, msg.text, shared); err != nil {
			p.logger.Error("Pipeline: failed to replay queued message",
				"peer_id", peerID,
				"error", err.Error())
		}
	}
	if len(queued) > 0 {
		p.logger.Info("Pipeline: replayed queued messages",
			"peer_id", peerID,
			"count", len(queued))
	}
	return nil
}

// Send encrypts and ships a message to the peer. Without a key for that
// peer the message is queued for keyed replay, not failed: queued
// reports which happened.
func (p *Pipeline) Send(peerID, text string) (queued bool, err error) {
	p.mu.Lock()
	key, ok := p.keys[peerID]
	keyCache := p.peerKeys
	p.mu.Unlock()

	if !ok && keyCache != nil {
		if serialized, cached := keyCache.Get(peerID); cached {
			if err := p.SetPeerKey(peerID, serialized); err == nil {
				p.mu.Lock()
				key, ok = p.keys[peerID]
				p.mu.Unlock()
			}
		}
	}

	if !ok {
		p.mu.Lock()
		p.pending[peerID] = append(p.pending[peerID], pendingOutbound{
			text:     text,
			queuedAt: p.now(),
		})
		p.mu.Unlock()
		p.logger.Info("Pipeline: no key for peer yet, message queued", "peer_id", peerID)
		return true, nil
	}

	return false, p.sendEncrypted(peerID, text, key)
}

func (p *Pipeline) sendEncrypted(peerID, text string, key []byte) error {
	env, err := keyring.Encrypt(text, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	at := p.now()
	err = p.send(protocol.SendMessage{
		Type:     protocol.TypeMessage,
		TargetID: peerID,
		Payload: protocol.Payload{
			Encrypted: true,
			IV:        env.IV,
			Cipher:    env.Cipher,
		},
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sent = append(p.sent, sentRecord{
		peerID:    peerID,
		unixMilli: at.UnixMilli(),
	})
	cache := p.plaintexts
	p.mu.Unlock()

	if cache != nil {
		cache.Store(Message{
			PeerID:    peerID,
			Text:      text,
			Timestamp: at.UnixMilli(),
			Decrypted: true,
		})
	}
	return nil
}

// HandleIncoming decrypts one inbound message and hands it to the
// presentation layer. Duplicates, by message id or by a repeated
// (sender, timestamp) pair, are dropped. Processing is serialized per
// conversation so decrypted text never interleaves out of order.
func (p *Pipeline) HandleIncoming(msg protocol.IncomingMessage) {
	conv := p.conversationLock(msg.SenderID)
	conv.Lock()
	defer conv.Unlock()

	p.mu.Lock()
	if _, dup := p.seen[msg.MessageID]; dup {
		p.mu.Unlock()
		return
	}
	if last, ok := p.lastSeen[msg.SenderID]; ok && last == msg.Timestamp {
		p.mu.Unlock()
		return
	}
	p.seen[msg.MessageID] = struct{}{}
	p.lastSeen[msg.SenderID] = msg.Timestamp
	key := p.keys[msg.SenderID]
	p.mu.Unlock()

	out := Message{
		ID:        msg.MessageID,
		SenderID:  msg.SenderID,
		PeerID:    msg.SenderID,
		Timestamp: msg.Timestamp,
		Queued:    msg.Queued,
	}
	out.Text, out.Decrypted = p.decryptPayload(msg.Payload, key, msg.MessageID)

	if out.Decrypted {
		p.cachePlaintext(out)
	}
	if p.handlers.OnMessage != nil {
		p.handlers.OnMessage(out)
	}
}

// MergeHistory decrypts a chat history page. The reply carries the
// peer's public key, so the shared key is installed first; rows already
// seen live are dropped by the same dedup as the live path.
func (p *Pipeline) MergeHistory(selfID string, reply protocol.ChatHistory) {
	if reply.SenderPublicKey != "" {
		if err := p.SetPeerKey(reply.UserID, reply.SenderPublicKey); err != nil {
			p.logger.Error("Pipeline: failed to install history peer key",
				"peer_id", reply.UserID,
				"error", err.Error())
		}
	}

	conv := p.conversationLock(reply.UserID)
	conv.Lock()
	defer conv.Unlock()

	p.mu.Lock()
	key := p.keys[reply.UserID]
	p.mu.Unlock()

	messages := make([]Message, 0, len(reply.Messages))
	for _, row := range reply.Messages {
		// A backfill page can overlap messages already delivered over the
		// live push path. Those rows are on screen; surfacing them again
		// would duplicate them.
		p.mu.Lock()
		_, dup := p.seen[row.MessageID]
		if !dup && row.SenderID != selfID {
			dup = p.lastSeen[row.SenderID] == row.Timestamp
		}
		p.mu.Unlock()
		if dup {
			continue
		}

		out := Message{
			ID:        row.MessageID,
			SenderID:  row.SenderID,
			PeerID:    reply.UserID,
			Timestamp: row.Timestamp,
			Delivered: row.Delivered,
			Read:      row.Read,
		}
		// Outbound rows were encrypted with the same shared key, so
		// both directions decrypt alike.
		out.Text, out.Decrypted = p.decryptPayload(row.Content, key, row.MessageID)
		if out.Decrypted {
			p.cachePlaintext(out)
		}

		p.mu.Lock()
		p.seen[row.MessageID] = struct{}{}
		if row.SenderID != selfID {
			p.lastSeen[row.SenderID] = row.Timestamp
		}
		p.mu.Unlock()

		messages = append(messages, out)
	}

	if p.handlers.OnHistory != nil {
		p.handlers.OnHistory(reply.UserID, messages, reply.HasMore)
	}
}

// ConfirmDelivery matches a server delivery confirmation against local
// sends. The server mints the id from its own clock, so the match is by
// recipient plus a bounded timestamp distance.
func (p *Pipeline) ConfirmDelivery(confirmation protocol.DeliveryConfirmation) {
	id, err := model.ParseMessageID(confirmation.MessageID)
	if err != nil {
		p.logger.Info("Pipeline: dropping malformed delivery confirmation",
			"message_id", confirmation.MessageID)
		return
	}

	p.mu.Lock()
	matched := false
	for i, rec := range p.sent {
		if rec.messageID != "" || rec.peerID != id.RecipientID {
			continue
		}
		delta := time.Duration(abs64(rec.unixMilli-id.UnixMilli)) * time.Millisecond
		if delta <= confirmationTolerance {
			p.sent[i].messageID = confirmation.MessageID
			matched = true
			break
		}
	}
	p.mu.Unlock()

	if !matched {
		p.logger.Debug("Pipeline: delivery confirmation without local match",
			"message_id", confirmation.MessageID)
	}
	if p.handlers.OnDelivered != nil {
		p.handlers.OnDelivered(confirmation.MessageID)
	}
}

// ConfirmQueued records a message_queued ack for an offline recipient.
func (p *Pipeline) ConfirmQueued(ack protocol.MessageQueued) {
	if p.handlers.OnQueuedAck != nil {
		p.handlers.OnQueuedAck(ack.MessageID, ack.TargetID)
	}
}

// ConfirmRead forwards a read receipt for an earlier send.
func (p *Pipeline) ConfirmRead(confirmation protocol.ReadConfirmation) {
	if p.handlers.OnRead != nil {
		p.handlers.OnRead(confirmation.MessageID)
	}
}

// MarkRead reports to the relay that a message was displayed.
func (p *Pipeline) MarkRead(messageID string) error {
	return p.send(protocol.MessageRead{
		Type:      protocol.TypeMessageRead,
		MessageID: messageID,
	})
}

// PendingCount reports how many messages await a key for the peer.
func (p *Pipeline) PendingCount(peerID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending[peerID])
}

// Reset drops all derived shared keys and in-flight state. Called on
// logout so nothing from the previous identity survives into the next
// derivation.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = nil
	p.keys = make(map[string][]byte)
	p.rawKeys = make(map[string]string)
	p.pending = make(map[string][]pendingOutbound)
	p.seen = make(map[string]struct{})
	p.lastSeen = make(map[string]int64)
	p.sent = nil
}

// HasKey reports whether a shared key exists for the peer.
func (p *Pipeline) HasKey(peerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[peerID]
	return ok
}

func (p *Pipeline) decryptPayload(payload protocol.Payload, key []byte, messageID string) (text string, decrypted bool) {
	if !payload.Encrypted {
		return payload.Text, true
	}
	if key == nil {
		p.logger.Info("Pipeline: no key for encrypted message", "message_id", messageID)
		return UndecryptablePlaceholder, false
	}
	text, err := keyring.Decrypt(keyring.Envelope{IV: payload.IV, Cipher: payload.Cipher}, key)
	if err != nil {
		p.logger.Info("Pipeline: failed to decrypt message",
			"message_id", messageID,
			"error", err.Error())
		return UndecryptablePlaceholder, false
	}
	return text, true
}

func (p *Pipeline) cachePlaintext(msg Message) {
	p.mu.Lock()
	cache := p.plaintexts
	p.mu.Unlock()
	if cache != nil {
		cache.Store(msg)
	}
}

func (p *Pipeline) conversationLock(peerID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mu, ok := p.convMu[peerID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	p.convMu[peerID] = mu
	return mu
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
