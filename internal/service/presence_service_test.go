package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync-api/internal/models"
)

func profileOnline(t *testing.T, docs *stubDocumentStore, userID string) bool {
	t.Helper()
	doc, err := docs.Get(context.Background(), models.UsersCollection, userID)
	require.NoError(t, err)
	return models.UserFromDocument(doc).Online
}

func TestTrackerPublishesPresenceOnConnect(t *testing.T) {
	docs := newStubDocumentStore()
	ephemeral := newStubEphemeralStore()
	tracker := NewPresenceTracker(Session{UserID: "alice", DisplayName: "Alice"}, docs, ephemeral, zerolog.Nop())

	require.NoError(t, tracker.Start(context.Background()))
	ephemeral.connect()

	require.Equal(t, "true", ephemeral.values[PresenceStatusPath("alice")])
	require.Equal(t, "false", ephemeral.deferredSet[PresenceStatusPath("alice")])
	require.True(t, profileOnline(t, docs, "alice"))
}

func TestTrackerReregistersOnReconnect(t *testing.T) {
	docs := newStubDocumentStore()
	ephemeral := newStubEphemeralStore()
	tracker := NewPresenceTracker(Session{UserID: "alice", DisplayName: "Alice"}, docs, ephemeral, zerolog.Nop())

	require.NoError(t, tracker.Start(context.Background()))
	ephemeral.connect()

	// Simulate the broker dropping state between connections.
	delete(ephemeral.values, PresenceStatusPath("alice"))
	delete(ephemeral.deferredSet, PresenceStatusPath("alice"))

	ephemeral.connect()
	require.Equal(t, "true", ephemeral.values[PresenceStatusPath("alice")])
	require.Equal(t, "false", ephemeral.deferredSet[PresenceStatusPath("alice")])
}

func TestTrackerStopClearsStateAndCancelsDeferred(t *testing.T) {
	docs := newStubDocumentStore()
	ephemeral := newStubEphemeralStore()
	tracker := NewPresenceTracker(Session{UserID: "alice", DisplayName: "Alice"}, docs, ephemeral, zerolog.Nop())

	require.NoError(t, tracker.Start(context.Background()))
	ephemeral.connect()
	tracker.Stop(context.Background())

	_, exists := ephemeral.values[PresenceStatusPath("alice")]
	require.False(t, exists)
	_, pending := ephemeral.deferredSet[PresenceStatusPath("alice")]
	require.False(t, pending)
	require.False(t, profileOnline(t, docs, "alice"))
}
