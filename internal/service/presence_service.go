package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// presenceStatusPrefix namespaces transient presence values in the
// ephemeral store, one path per user.
const presenceStatusPrefix = "status/"

// PresenceStatusPath returns the transient presence path for a user.
func PresenceStatusPath(userID string) string {
	return presenceStatusPrefix + userID
}

// PresenceTracker keeps a user's online/offline record accurate across
// connects, clean shutdowns and ungraceful drops. All failures here are
// logged and swallowed: presence is soft state and self-corrects on the
// next connection event.
type PresenceTracker struct {
	session   Session
	docs      store.DocumentStore
	ephemeral store.EphemeralStore
	logger    zerolog.Logger
	now       func() time.Time

	sub store.Subscription
}

// NewPresenceTracker binds a tracker to one session.
func NewPresenceTracker(session Session, docs store.DocumentStore, ephemeral store.EphemeralStore, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		session:   session,
		docs:      docs,
		ephemeral: ephemeral,
		logger:    logger.With().Str("component", "presence_tracker").Str("user_id", session.UserID).Logger(),
		now:       time.Now,
	}
}

// Start watches connection-state transitions and publishes presence on each
// reconnect.
func (t *PresenceTracker) Start(ctx context.Context) error {
	sub, err := t.ephemeral.Connected(ctx, func(connected bool) {
		if connected {
			t.handleConnected(ctx)
		}
	})
	if err != nil {
		return err
	}
	t.sub = sub
	return nil
}

func (t *PresenceTracker) handleConnected(ctx context.Context) {
	path := PresenceStatusPath(t.session.UserID)

	if err := t.ephemeral.SetValue(ctx, path, "true"); err != nil {
		t.logger.Warn().Err(err).Msg("failed to write transient presence")
	}

	// Durable mirror is best-effort; a failure never blocks or rolls back
	// the transient write.
	t.mirror(ctx, true)

	if err := t.ephemeral.OnDisconnectSetValue(ctx, path, "false"); err != nil {
		t.logger.Warn().Err(err).Msg("failed to register on-disconnect presence write")
	}

	observability.PresenceTransitions().WithLabelValues("online").Inc()
}

// Stop is the clean-shutdown path. The deferred write is cancelled even when
// deleting the transient value fails, so a stale offline write can never
// fire after a fresh session starts for the same user elsewhere.
func (t *PresenceTracker) Stop(ctx context.Context) {
	if t.sub != nil {
		t.sub.Cancel()
	}

	path := PresenceStatusPath(t.session.UserID)
	if err := t.ephemeral.DeleteValue(ctx, path); err != nil {
		t.logger.Warn().Err(err).Msg("failed to delete transient presence")
	}
	if err := t.ephemeral.OnDisconnectCancel(ctx, path); err != nil {
		t.logger.Warn().Err(err).Msg("failed to cancel on-disconnect presence write")
	}

	t.mirror(ctx, false)
	observability.PresenceTransitions().WithLabelValues("offline").Inc()
}

func (t *PresenceTracker) mirror(ctx context.Context, online bool) {
	fields := map[string]any{
		"online":      online,
		"last_active": models.EncodeTime(t.now()),
	}
	if err := t.docs.Set(ctx, models.UsersCollection, t.session.UserID, fields, true); err != nil {
		t.logger.Warn().Err(err).Bool("online", online).Msg("failed to mirror presence to profile")
	}
}

// PresenceMirror observes transient presence transitions for every user and
// mirrors them into durable profile documents. It is what flips a user's
// durable record offline after an ungraceful drop, when no code from the
// dead session runs anymore.
type PresenceMirror struct {
	docs   store.DocumentStore
	feed   store.PatternSubscriber
	logger zerolog.Logger
	now    func() time.Time

	sub store.Subscription
}

// NewPresenceMirror constructs the process-wide mirror loop.
func NewPresenceMirror(docs store.DocumentStore, feed store.PatternSubscriber, logger zerolog.Logger) *PresenceMirror {
	return &PresenceMirror{
		docs:   docs,
		feed:   feed,
		logger: logger.With().Str("component", "presence_mirror").Logger(),
		now:    time.Now,
	}
}

// Start subscribes to all transient presence paths.
func (m *PresenceMirror) Start(ctx context.Context) error {
	sub, err := m.feed.SubscribeValuePrefix(ctx, presenceStatusPrefix, func(path, value string, exists bool) {
		userID := strings.TrimPrefix(path, presenceStatusPrefix)
		if userID == "" || userID == path {
			return
		}

		online := exists && value == "true"
		fields := map[string]any{
			"online":      online,
			"last_active": models.EncodeTime(m.now()),
		}
		if err := m.docs.Set(ctx, models.UsersCollection, userID, fields, true); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to mirror presence transition")
			return
		}
		if !online {
			observability.PresenceTransitions().WithLabelValues("offline").Inc()
		}
	})
	if err != nil {
		return err
	}
	m.sub = sub
	return nil
}

// Stop releases the pattern subscription.
func (m *PresenceMirror) Stop() {
	if m.sub != nil {
		m.sub.Cancel()
	}
}
