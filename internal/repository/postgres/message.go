package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/roundtable/relay/internal/model"
)

var _ model.MessageStore = (*MessageRepository)(nil)

type MessageRepository struct {
	db *Connection
}

func NewMessageRepository(db *Connection) *MessageRepository {
	return &MessageRepository{
		db: db,
	}
}

const messageColumns = `message_id, sender_id, recipient_id, content, timestamp, delivered, read_msg`

// scanMessage reads one row. A row whose stored id fails to parse is
// reported with ok=false rather than an error: one malformed row must
// not poison a whole queue drain or history page.
func scanMessage(row pgx.Row) (msg model.Message, ok bool, err error) {
	var rawID string
	err = row.Scan(&rawID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.Timestamp, &msg.Delivered, &msg.Read)
	if err != nil {
		return model.Message{}, false, err
	}
	id, err := model.ParseMessageID(rawID)
	if err != nil {
		return model.Message{}, false, nil
	}
	msg.ID = id
	return msg, true, nil
}

func (r *MessageRepository) Insert(ctx context.Context, msg model.Message) error {
	query := `INSERT INTO messages (message_id, sender_id, recipient_id, content, timestamp, delivered, read_msg)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (message_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query,
		msg.ID.String(), msg.SenderID, msg.RecipientID, msg.Content,
		msg.Timestamp, msg.Delivered, msg.Read,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return nil
}

// ClaimUndelivered flips the recipient's queued messages to delivered and
// returns the claimed rows oldest first. The single UPDATE..RETURNING
// makes concurrent drains from duplicate identifies claim disjoint sets.
func (r *MessageRepository) ClaimUndelivered(ctx context.Context, recipientID string) ([]model.Message, error) {
	query := `UPDATE messages SET delivered = TRUE
			  WHERE recipient_id = $1 AND delivered = FALSE
			  RETURNING ` + messageColumns

	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim undelivered messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, ok, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if !ok {
			continue
		}
		msg.Delivered = true
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	sortByTimestamp(messages)
	return messages, nil
}

// MarkRead flips the read flag, implying delivered, and reports whether
// the row actually transitioned so repeated read events stay idempotent.
func (r *MessageRepository) MarkRead(ctx context.Context, messageID string) (bool, error) {
	query := `UPDATE messages SET read_msg = TRUE, delivered = TRUE
			  WHERE message_id = $1 AND read_msg = FALSE`

	tag, err := r.db.Exec(ctx, query, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Requeue puts a claimed message back in the undelivered queue so a
// later drain picks it up. Rows already read stay read.
func (r *MessageRepository) Requeue(ctx context.Context, messageID string) error {
	query := `UPDATE messages SET delivered = FALSE
			  WHERE message_id = $1 AND read_msg = FALSE`

	if _, err := r.db.Exec(ctx, query, messageID); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}

	return nil
}

// History returns up to limit messages between two users, oldest first.
// A non-zero before acts as a keyset cursor selecting strictly older rows.
func (r *MessageRepository) History(ctx context.Context, userID, otherUserID string, limit int, before int64) ([]model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
			  WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
				AND ($4::bigint = 0 OR timestamp < $4)
			  ORDER BY timestamp DESC
			  LIMIT $3`

	rows, err := r.db.Query(ctx, query, userID, otherUserID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, ok, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	// Newest-first from the index, oldest-first to the caller.
	slices.Reverse(messages)
	return messages, nil
}

// Claimed rows come back in arbitrary order; queue drains must replay
// oldest first.
func sortByTimestamp(messages []model.Message) {
	slices.SortFunc(messages, func(a, b model.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
}
