package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync-api/internal/models"
)

func seedReactableMessage(t *testing.T, docs *stubDocumentStore) models.Message {
	t.Helper()
	message := models.Message{
		ID: "m1", RoomID: "general", SenderID: "bob", Kind: models.MessageKindText,
		Content: "react to this", CreatedAt: time.Now().UTC(),
	}
	seedMessage(t, docs, message)
	return message
}

func reactionVoters(t *testing.T, docs *stubDocumentStore, roomID, messageID, emoji string) []string {
	t.Helper()
	doc, err := docs.Get(context.Background(), models.MessagesCollection(roomID), messageID)
	require.NoError(t, err)
	return models.MessageFromDocument(roomID, doc).Reactions[emoji]
}

func TestToggleAddsThenRemovesVote(t *testing.T) {
	docs := newStubDocumentStore()
	message := seedReactableMessage(t, docs)
	aggregator := NewReactionAggregator(docs, zerolog.Nop())

	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "👍"))
	require.Equal(t, []string{"alice"}, reactionVoters(t, docs, message.RoomID, message.ID, "👍"))

	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "👍"))
	require.Empty(t, reactionVoters(t, docs, message.RoomID, message.ID, "👍"))
}

func TestTogglePairIsIdempotentAcrossUsers(t *testing.T) {
	docs := newStubDocumentStore()
	message := seedReactableMessage(t, docs)
	aggregator := NewReactionAggregator(docs, zerolog.Nop())

	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "🎉"))
	require.NoError(t, aggregator.Toggle(context.Background(), "carol", message.RoomID, message.ID, "🎉"))
	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "🎉"))

	require.Equal(t, []string{"carol"}, reactionVoters(t, docs, message.RoomID, message.ID, "🎉"))
}

func TestToggleKeepsEmojisIndependent(t *testing.T) {
	docs := newStubDocumentStore()
	message := seedReactableMessage(t, docs)
	aggregator := NewReactionAggregator(docs, zerolog.Nop())

	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "👍"))
	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "❤️"))
	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "👍"))

	require.Empty(t, reactionVoters(t, docs, message.RoomID, message.ID, "👍"))
	require.Equal(t, []string{"alice"}, reactionVoters(t, docs, message.RoomID, message.ID, "❤️"))
}

func TestToggleMissingMessage(t *testing.T) {
	docs := newStubDocumentStore()
	aggregator := NewReactionAggregator(docs, zerolog.Nop())

	err := aggregator.Toggle(context.Background(), "alice", "general", "ghost", "👍")
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestSummaryReportsViewerVote(t *testing.T) {
	docs := newStubDocumentStore()
	message := seedReactableMessage(t, docs)
	aggregator := NewReactionAggregator(docs, zerolog.Nop())

	require.NoError(t, aggregator.Toggle(context.Background(), "alice", message.RoomID, message.ID, "👍"))
	require.NoError(t, aggregator.Toggle(context.Background(), "carol", message.RoomID, message.ID, "👍"))

	summary, err := aggregator.Summary(context.Background(), "alice", message.RoomID, message.ID)
	require.NoError(t, err)
	require.Equal(t, 2, summary["👍"].Count)
	require.True(t, summary["👍"].Reacted)

	summary, err = aggregator.Summary(context.Background(), "dave", message.RoomID, message.ID)
	require.NoError(t, err)
	require.False(t, summary["👍"].Reacted)
}
