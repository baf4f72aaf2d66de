package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
)

const defaultHistoryLimit = 50

// Router decides immediate delivery versus durable queueing for every
// outbound message and emits the matching acknowledgments.
type Router struct {
	registry     *registry.Registry
	messageStore model.MessageStore
	userStore    model.UserStore
	logger       *logger.Logger
	now          func() time.Time
}

func NewRouter(reg *registry.Registry, messageStore model.MessageStore, userStore model.UserStore, logger *logger.Logger) *Router {
	return &Router{
		registry:     reg,
		messageStore: messageStore,
		userStore:    userStore,
		logger:       logger,
		now:          time.Now,
	}
}

// Route handles one outbound message from an authenticated connection.
// Online recipients get the payload immediately and the sender a delivery
// confirmation; offline recipients get a durable queue row and the sender
// a distinct queued acknowledgment.
func (r *Router) Route(ctx context.Context, sender *registry.Entry, req protocol.SendMessage) {
	if req.TargetID == "" {
		return
	}

	now := r.now()
	id := model.NewMessageID(sender.UserID, req.TargetID, now)

	content, err := json.Marshal(req.Payload)
	if err != nil {
		r.logger.Error("Router service: failed to encode payload",
			"message_id", id.String(),
			"error", err.Error())
		return
	}

	msg := model.Message{
		ID:          id,
		SenderID:    sender.UserID,
		RecipientID: req.TargetID,
		Content:     content,
		Timestamp:   now.UnixMilli(),
	}

	target, online := r.registry.Lookup(req.TargetID)
	if online {
		err := target.Conn.Send(protocol.IncomingMessage{
			Type:      protocol.TypeMessage,
			MessageID: id.String(),
			SenderID:  sender.UserID,
			Payload:   req.Payload,
			Timestamp: msg.Timestamp,
		})
		if err != nil {
			r.logger.Info("Router service: forward failed, queueing instead",
				"message_id", id.String(),
				"recipient_id", req.TargetID)
			online = false
		}
	}

	msg.Delivered = online

	if err := r.messageStore.Insert(ctx, msg); err != nil {
		r.logger.Error("Router service: failed to persist message",
			"message_id", id.String(),
			"error", err.Error())
		if !online {
			// Best effort report: the message is neither delivered nor
			// durably queued, the sender must not believe otherwise.
			_ = sender.Conn.Send(protocol.ErrorEvent{
				Type:    protocol.TypeError,
				Message: "Failed to queue message",
			})
			return
		}
	}

	if online {
		r.logger.Debug("Router service: delivered message",
			"message_id", id.String(),
			"recipient_id", req.TargetID)
		_ = sender.Conn.Send(protocol.DeliveryConfirmation{
			Type:        protocol.TypeDeliveryConfirmation,
			MessageID:   id.String(),
			RecipientID: req.TargetID,
			Delivered:   true,
		})
		return
	}

	r.logger.Debug("Router service: queued message for offline recipient",
		"message_id", id.String(),
		"recipient_id", req.TargetID)
	_ = sender.Conn.Send(protocol.MessageQueued{
		Type:      protocol.TypeMessageQueued,
		TargetID:  req.TargetID,
		MessageID: id.String(),
	})
}

// DrainQueued pushes the offline queue to a freshly identified user,
// oldest first and tagged queued so the client suppresses notifications,
// then confirms delivery to each original sender still online.
func (r *Router) DrainQueued(ctx context.Context, entry *registry.Entry) {
	pending, err := r.messageStore.ClaimUndelivered(ctx, entry.UserID)
	if err != nil {
		r.logger.Error("Router service: failed to drain offline queue",
			"user_id", entry.UserID,
			"error", err.Error())
		return
	}
	if len(pending) == 0 {
		return
	}

	r.logger.Info("Router service: delivering queued messages",
		"user_id", entry.UserID,
		"count", len(pending))

	for i, msg := range pending {
		var payload protocol.Payload
		if err := json.Unmarshal(msg.Content, &payload); err != nil {
			r.logger.Error("Router service: stored payload unreadable",
				"message_id", msg.ID.String(),
				"error", err.Error())
			continue
		}

		err := entry.Conn.Send(protocol.IncomingMessage{
			Type:      protocol.TypeMessage,
			MessageID: msg.ID.String(),
			SenderID:  msg.SenderID,
			Payload:   payload,
			Timestamp: msg.Timestamp,
			Queued:    true,
		})
		if err != nil {
			// The socket died mid-drain. Claimed rows that never went out
			// go back in the queue for the next identify.
			r.logger.Error("Router service: drain aborted, requeueing remainder",
				"user_id", entry.UserID,
				"requeued", len(pending)-i,
				"error", err.Error())
			r.requeue(ctx, pending[i:])
			return
		}

		if sender, online := r.registry.Lookup(msg.SenderID); online {
			_ = sender.Conn.Send(protocol.DeliveryConfirmation{
				Type:        protocol.TypeDeliveryConfirmation,
				MessageID:   msg.ID.String(),
				RecipientID: entry.UserID,
				Delivered:   true,
			})
		}
	}
}

func (r *Router) requeue(ctx context.Context, messages []model.Message) {
	for _, msg := range messages {
		if err := r.messageStore.Requeue(ctx, msg.ID.String()); err != nil {
			r.logger.Error("Router service: failed to requeue message",
				"message_id", msg.ID.String(),
				"error", err.Error())
		}
	}
}

// MarkRead flips the read flag and forwards exactly one read confirmation
// to the original sender when online. Repeats are idempotent: a row that
// already transitioned produces no further confirmation.
func (r *Router) MarkRead(ctx context.Context, messageID string) {
	id, err := model.ParseMessageID(messageID)
	if err != nil {
		r.logger.Info("Router service: dropping malformed read event",
			"message_id", messageID)
		return
	}

	transitioned, err := r.messageStore.MarkRead(ctx, messageID)
	if err != nil {
		r.logger.Error("Router service: failed to mark read",
			"message_id", messageID,
			"error", err.Error())
		return
	}
	if !transitioned {
		return
	}

	if sender, online := r.registry.Lookup(id.SenderID); online {
		_ = sender.Conn.Send(protocol.ReadConfirmation{
			Type:      protocol.TypeReadConfirmation,
			MessageID: messageID,
		})
	}
}

// History answers a chat history request with a keyset-paginated page,
// oldest first, plus the other party's public key for decryption of
// inbound rows.
func (r *Router) History(ctx context.Context, req protocol.GetChatHistory) (protocol.ChatHistory, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	messages, err := r.messageStore.History(ctx, req.UserID, req.OtherUserID, limit, req.BeforeTimestamp)
	if err != nil {
		return protocol.ChatHistory{}, fmt.Errorf("failed to fetch chat history: %w", err)
	}

	reply := protocol.ChatHistory{
		Type:     protocol.TypeChatHistory,
		UserID:   req.OtherUserID,
		Messages: make([]protocol.HistoryMessage, 0, len(messages)),
		HasMore:  len(messages) == limit,
	}

	for _, msg := range messages {
		var payload protocol.Payload
		if err := json.Unmarshal(msg.Content, &payload); err != nil {
			r.logger.Error("Router service: stored payload unreadable",
				"message_id", msg.ID.String(),
				"error", err.Error())
			continue
		}
		reply.Messages = append(reply.Messages, protocol.HistoryMessage{
			MessageID:   msg.ID.String(),
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			Content:     payload,
			Timestamp:   msg.Timestamp,
			Delivered:   msg.Delivered,
			Read:        msg.Read,
		})
	}

	other, err := r.userStore.GetByID(ctx, req.OtherUserID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			return protocol.ChatHistory{}, fmt.Errorf("failed to get peer public key: %w", err)
		}
	} else {
		reply.SenderPublicKey = other.PublicKey
	}

	return reply, nil
}
