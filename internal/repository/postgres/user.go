package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roundtable/relay/internal/model"
)

var _ model.UserStore = (*UserRepository)(nil)

type UserRepository struct {
	db *Connection
}

func NewUserRepository(db *Connection) *UserRepository {
	return &UserRepository{
		db: db,
	}
}

const userColumns = `user_id, username, COALESCE(display_name, ''), COALESCE(public_key, ''),
			  COALESCE(profile_picture, ''), COALESCE(password_hash, ''), last_seen, created_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	var lastSeen, createdAt int64
	err := row.Scan(
		&user.UserID, &user.Username, &user.DisplayName, &user.PublicKey,
		&user.ProfilePicture, &user.PasswordHash, &lastSeen, &createdAt,
	)
	if err != nil {
		return model.User{}, err
	}
	user.LastSeen = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`

	user, err := scanUser(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user by username: %w", err)
	}

	return user, nil
}

// Upsert creates or updates a user keyed by user_id. Mutable profile
// fields follow the identify; the stored password hash and profile
// picture survive unless the incoming record carries replacements.
func (r *UserRepository) Upsert(ctx context.Context, user model.User) (model.User, error) {
	query := `INSERT INTO users (user_id, username, display_name, public_key, profile_picture, password_hash, last_seen, created_at)
			  VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
			  ON CONFLICT (user_id) DO UPDATE SET
				username = excluded.username,
				display_name = excluded.display_name,
				public_key = excluded.public_key,
				profile_picture = COALESCE(excluded.profile_picture, users.profile_picture),
				password_hash = COALESCE(excluded.password_hash, users.password_hash),
				last_seen = excluded.last_seen
			  RETURNING ` + userColumns

	saved, err := scanUser(r.db.QueryRow(ctx, query,
		user.UserID, user.Username, user.DisplayName, user.PublicKey,
		user.ProfilePicture, user.PasswordHash,
		user.LastSeen.UnixMilli(), user.CreatedAt.UnixMilli(),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// users_username_lower_idx: same username, different user_id.
			return model.User{}, model.ErrUsernameTaken
		}
		return model.User{}, fmt.Errorf("failed to upsert user: %w", err)
	}

	return saved, nil
}

func (r *UserRepository) SetPasswordHash(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to set password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

func (r *UserRepository) SetProfilePicture(ctx context.Context, userID, url string) error {
	query := `UPDATE users SET profile_picture = $2 WHERE user_id = $1`

	tag, err := r.db.Exec(ctx, query, userID, url)
	if err != nil {
		return fmt.Errorf("failed to set profile picture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}

	return nil
}

func (r *UserRepository) TouchLastSeen(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET last_seen = $2 WHERE user_id = $1`

	if _, err := r.db.Exec(ctx, query, userID, at.UnixMilli()); err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}

	return nil
}

func (r *UserRepository) List(ctx context.Context) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY last_seen DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}
