package service

import (
	"context"
	"time"

	"github.com/roundtable/relay/internal/logger"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
)

// Presence builds the roster broadcasts that keep every client's contact
// list current: the full user list on any registry change plus the
// incremental user_connected event.
type Presence struct {
	registry  *registry.Registry
	userStore model.UserStore
	logger    *logger.Logger
	now       func() time.Time
}

func NewPresence(reg *registry.Registry, userStore model.UserStore, logger *logger.Logger) *Presence {
	return &Presence{
		registry:  reg,
		userStore: userStore,
		logger:    logger,
		now:       time.Now,
	}
}

// Roster merges every known account with the live registry: online users
// carry their session tag and current info, everyone else their stored
// profile and last seen time.
func (p *Presence) Roster(ctx context.Context) ([]model.Presence, error) {
	users, err := p.userStore.List(ctx)
	if err != nil {
		return nil, err
	}

	online := make(map[string]*registry.Entry)
	for _, entry := range p.registry.Snapshot() {
		online[entry.UserID] = entry
	}

	roster := make([]model.Presence, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, user := range users {
		seen[user.UserID] = true
		if entry, ok := online[user.UserID]; ok {
			roster = append(roster, presenceOnline(entry))
			continue
		}
		roster = append(roster, model.Presence{
			UserID: user.UserID,
			Info: model.Info{
				Name:           user.DisplayName,
				Username:       user.Username,
				ProfilePicture: user.ProfilePicture,
			},
			PublicKey: user.PublicKey,
			Status:    model.StatusOffline,
			LastSeen:  user.LastSeen.UnixMilli(),
		})
	}

	// Connected users that have not hit the store yet still belong on
	// the roster.
	for _, entry := range p.registry.Snapshot() {
		if !seen[entry.UserID] {
			roster = append(roster, presenceOnline(entry))
		}
	}

	return roster, nil
}

// AnnounceConnected broadcasts an incremental user_connected event to
// everyone else, then pushes the full roster to all clients.
func (p *Presence) AnnounceConnected(ctx context.Context, entry *registry.Entry) {
	p.registry.BroadcastExcept(entry.UserID, protocol.UserConnected{
		Type: protocol.TypeUserConnected,
		User: presenceOnline(entry),
	})
	p.BroadcastRoster(ctx)
}

// AnnounceDisconnected records the user's last seen time and pushes the
// refreshed roster so every client flips them to offline.
func (p *Presence) AnnounceDisconnected(ctx context.Context, userID string) {
	if err := p.userStore.TouchLastSeen(ctx, userID, p.now()); err != nil {
		p.logger.Error("Presence service: failed to record last seen",
			"user_id", userID,
			"error", err.Error())
	}
	p.BroadcastRoster(ctx)
}

// BroadcastRoster pushes the full merged roster to every live connection.
func (p *Presence) BroadcastRoster(ctx context.Context) {
	roster, err := p.Roster(ctx)
	if err != nil {
		p.logger.Error("Presence service: failed to build roster",
			"error", err.Error())
		return
	}
	p.registry.Broadcast(protocol.UserList{
		Type:  protocol.TypeUserList,
		Users: roster,
	})
}

// UpdateInfo persists a profile change from broadcast_presence and
// refreshes the roster so every client sees the new name and avatar.
func (p *Presence) UpdateInfo(ctx context.Context, entry *registry.Entry, info model.Info) {
	entry.Info = info

	user, err := p.userStore.GetByID(ctx, entry.UserID)
	if err != nil {
		p.logger.Error("Presence service: failed to load user for profile update",
			"user_id", entry.UserID,
			"error", err.Error())
		return
	}
	user.DisplayName = info.Name
	if info.ProfilePicture != "" {
		user.ProfilePicture = info.ProfilePicture
	}
	if _, err := p.userStore.Upsert(ctx, user); err != nil {
		p.logger.Error("Presence service: failed to persist profile update",
			"user_id", entry.UserID,
			"error", err.Error())
		return
	}

	p.BroadcastRoster(ctx)
}

// UpdateProfilePicture persists a new avatar URL and broadcasts the
// change to every client, including the requester as its acknowledgment.
func (p *Presence) UpdateProfilePicture(ctx context.Context, entry *registry.Entry, url string) {
	if err := p.userStore.SetProfilePicture(ctx, entry.UserID, url); err != nil {
		p.logger.Error("Presence service: failed to persist profile picture",
			"user_id", entry.UserID,
			"error", err.Error())
		_ = entry.Conn.Send(protocol.ErrorEvent{
			Type:    protocol.TypeError,
			Message: "Failed to update profile picture",
		})
		return
	}

	entry.Info.ProfilePicture = url

	p.registry.Broadcast(protocol.ProfilePictureUpdated{
		Type:           protocol.TypeProfilePictureUpdated,
		UserID:         entry.UserID,
		ProfilePicture: url,
		Timestamp:      p.now().UnixMilli(),
		Success:        true,
	})
	p.BroadcastRoster(ctx)
}

func presenceOnline(entry *registry.Entry) model.Presence {
	return model.Presence{
		UserID:    entry.UserID,
		SessionID: entry.SessionID,
		PublicKey: entry.PublicKey,
		Info:      entry.Info,
		Status:    model.StatusOnline,
	}
}
