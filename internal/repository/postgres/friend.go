package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/roundtable/relay/internal/model"
)

var _ model.FriendStore = (*FriendRepository)(nil)

type FriendRepository struct {
	db *Connection
}

func NewFriendRepository(db *Connection) *FriendRepository {
	return &FriendRepository{
		db: db,
	}
}

// UpsertRequest records a pending request for the ordered pair. An
// existing friendship or a live pending request makes the new request
// redundant; a previously declined request may be re-issued.
func (r *FriendRepository) UpsertRequest(ctx context.Context, senderID, receiverID string) error {
	friends, err := r.AreFriends(ctx, senderID, receiverID)
	if err != nil {
		return err
	}
	if friends {
		return model.ErrDuplicateRequest
	}

	now := time.Now().UnixMilli()
	query := `INSERT INTO friend_requests (sender_id, receiver_id, status, created_at, updated_at)
			  VALUES ($1, $2, 'pending', $3, $3)
			  ON CONFLICT (sender_id, receiver_id) DO UPDATE SET
				status = 'pending', updated_at = $3
			  WHERE friend_requests.status <> 'pending'`

	tag, err := r.db.Exec(ctx, query, senderID, receiverID, now)
	if err != nil {
		return fmt.Errorf("failed to upsert friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrDuplicateRequest
	}

	return nil
}

// Accept resolves a pending request and creates the friendship edge in
// both directions inside one transaction.
func (r *FriendRepository) Accept(ctx context.Context, senderID, receiverID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UnixMilli()

	tag, err := tx.Exec(ctx,
		`UPDATE friend_requests SET status = 'accepted', updated_at = $3
		 WHERE sender_id = $1 AND receiver_id = $2 AND status = 'pending'`,
		senderID, receiverID, now)
	if err != nil {
		return fmt.Errorf("failed to accept friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	edge := `INSERT INTO friendships (user_id, friend_id, created_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, friend_id) DO NOTHING`
	if _, err := tx.Exec(ctx, edge, receiverID, senderID, now); err != nil {
		return fmt.Errorf("failed to create friendship edge: %w", err)
	}
	if _, err := tx.Exec(ctx, edge, senderID, receiverID, now); err != nil {
		return fmt.Errorf("failed to create friendship edge: %w", err)
	}

	// The pending record is consumed so the pair can exchange requests
	// again if the friendship is ever removed.
	if _, err := tx.Exec(ctx,
		`DELETE FROM friend_requests WHERE sender_id = $1 AND receiver_id = $2`,
		senderID, receiverID); err != nil {
		return fmt.Errorf("failed to remove resolved request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit acceptance: %w", err)
	}

	return nil
}

// Decline removes the pending request without creating an edge.
func (r *FriendRepository) Decline(ctx context.Context, senderID, receiverID string) error {
	query := `DELETE FROM friend_requests
			  WHERE sender_id = $1 AND receiver_id = $2 AND status = 'pending'`

	tag, err := r.db.Exec(ctx, query, senderID, receiverID)
	if err != nil {
		return fmt.Errorf("failed to decline friend request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

func (r *FriendRepository) PendingFor(ctx context.Context, receiverID string) ([]model.FriendRequest, error) {
	query := `SELECT sender_id, receiver_id, status, created_at FROM friend_requests
			  WHERE receiver_id = $1 AND status = 'pending'
			  ORDER BY created_at DESC`

	return r.queryRequests(ctx, query, receiverID)
}

func (r *FriendRepository) SentBy(ctx context.Context, senderID string) ([]model.FriendRequest, error) {
	query := `SELECT sender_id, receiver_id, status, created_at FROM friend_requests
			  WHERE sender_id = $1 AND status = 'pending'
			  ORDER BY created_at DESC`

	return r.queryRequests(ctx, query, senderID)
}

func (r *FriendRepository) queryRequests(ctx context.Context, query, arg string) ([]model.FriendRequest, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	defer rows.Close()

	var requests []model.FriendRequest
	for rows.Next() {
		var req model.FriendRequest
		if err := rows.Scan(&req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend request: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friend requests: %w", err)
	}

	return requests, nil
}

func (r *FriendRepository) Friends(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT friend_id FROM friendships WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan friend id: %w", err)
		}
		friends = append(friends, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friends: %w", err)
	}

	return friends, nil
}

func (r *FriendRepository) AreFriends(ctx context.Context, userID, otherID string) (bool, error) {
	query := `SELECT 1 FROM friendships WHERE user_id = $1 AND friend_id = $2`

	var one int
	err := r.db.QueryRow(ctx, query, userID, otherID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}

	return true, nil
}
