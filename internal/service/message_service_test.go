package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/store"
)

func newMessageService(docs *stubDocumentStore) *MessageService {
	return NewMessageService(docs, NewMentionResolver(docs, zerolog.Nop()), zerolog.Nop())
}

func seedMemberRoom(t *testing.T, docs *stubDocumentStore, roomID string, members ...string) {
	t.Helper()
	seedRoom(t, docs, models.Room{ID: roomID, Name: roomID, CreatedAt: time.Now().UTC(), Members: members})
}

func TestSendPersistsMessageWithMentions(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice", "bob")
	seedProfile(t, docs, "u-bob", "Bob")
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "morning @bob",
	})
	require.NoError(t, err)
	require.Equal(t, models.MessageKindText, message.Kind)
	require.Equal(t, []string{"u-bob"}, message.Mentions)

	stored, err := docs.Get(context.Background(), models.MessagesCollection("general"), message.ID)
	require.NoError(t, err)
	decoded := models.MessageFromDocument("general", stored)
	require.Equal(t, "morning @bob", decoded.Content)
	require.Equal(t, "alice", decoded.SenderID)
	require.Equal(t, []string{"u-bob"}, decoded.Mentions)
}

func TestSendSanitizesMarkup(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice")
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "hello <script>alert(1)</script>world",
	})
	require.NoError(t, err)
	require.NotContains(t, message.Content, "<script>")
	require.Contains(t, message.Content, "hello")
}

func TestSendRejectsNonMembers(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice")
	service := newMessageService(docs)

	_, err := service.Send(context.Background(), Session{UserID: "mallory"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "let me in",
	})
	require.ErrorIs(t, err, ErrNotRoomMember)
}

func TestSendUsesStoredProfileForDisplay(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice")
	require.NoError(t, docs.Set(context.Background(), models.UsersCollection, "alice", map[string]any{
		"uid":          "alice",
		"display_name": "Alice Liddell",
		"photo_url":    "https://example.com/alice.png",
	}, true))
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "alice"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "profile wins",
	})
	require.NoError(t, err)
	require.Equal(t, "Alice Liddell", message.SenderName)
	require.Equal(t, "https://example.com/alice.png", message.PhotoURL)
}

func TestSendClearsTypingRecord(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice")
	service := newMessageService(docs)

	typing := NewTypingCoordinator(Session{UserID: "alice", DisplayName: "Alice"}, docs, zerolog.Nop())
	defer typing.Close(context.Background())
	typing.Keystroke(context.Background(), "general")

	_, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "done typing",
	})
	require.NoError(t, err)

	_, err = docs.Get(context.Background(), models.TypingCollection("general"), "alice")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEditOnlyBySender(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice", "bob")
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID:  "general",
		Content: "tpyo",
	})
	require.NoError(t, err)

	_, err = service.Edit(context.Background(), Session{UserID: "bob"}, dto.EditMessageRequest{
		RoomID: "general", MessageID: message.ID, Content: "hijacked",
	})
	require.ErrorIs(t, err, ErrNotSender)

	edited, err := service.Edit(context.Background(), Session{UserID: "alice"}, dto.EditMessageRequest{
		RoomID: "general", MessageID: message.ID, Content: "typo",
	})
	require.NoError(t, err)
	require.Equal(t, "typo", edited.Content)
	require.False(t, edited.EditedAt.IsZero())
}

func TestEditRejectsNonTextMessages(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice")
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID: "general", Kind: models.MessageKindImage, Content: "https://example.com/cat.png",
	})
	require.NoError(t, err)

	_, err = service.Edit(context.Background(), Session{UserID: "alice"}, dto.EditMessageRequest{
		RoomID: "general", MessageID: message.ID, Content: "new caption",
	})
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestDeleteOnlyBySender(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice", "bob")
	service := newMessageService(docs)

	message, err := service.Send(context.Background(), Session{UserID: "alice", DisplayName: "Alice"}, dto.SendMessageRequest{
		RoomID: "general", Content: "fleeting",
	})
	require.NoError(t, err)

	require.ErrorIs(t, service.Delete(context.Background(), Session{UserID: "bob"}, "general", message.ID), ErrNotSender)
	require.NoError(t, service.Delete(context.Background(), Session{UserID: "alice"}, "general", message.ID))

	_, err = docs.Get(context.Background(), models.MessagesCollection("general"), message.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistoryAscendingOrder(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice", "bob")
	service := newMessageService(docs)

	base := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		seedMessage(t, docs, models.Message{
			ID: content, RoomID: "general", SenderID: "bob", Kind: models.MessageKindText,
			Content: content, CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	history, err := service.History(context.Background(), Session{UserID: "alice"}, "general", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "first", history[0].Content)
	require.Equal(t, "third", history[2].Content)
}

func TestWatchStreamsNewMessages(t *testing.T) {
	docs := newStubDocumentStore()
	seedMemberRoom(t, docs, "general", "alice", "bob")
	service := newMessageService(docs)

	var latest []models.Message
	sub, err := service.Watch(context.Background(), Session{UserID: "alice"}, "general", func(messages []models.Message, err error) {
		require.NoError(t, err)
		latest = messages
	})
	require.NoError(t, err)
	defer sub.Cancel()
	require.Empty(t, latest)

	seedMessage(t, docs, models.Message{
		ID: "m1", RoomID: "general", SenderID: "bob", Kind: models.MessageKindText,
		Content: "incoming", CreatedAt: time.Now().UTC(),
	})
	require.Len(t, latest, 1)
	require.Equal(t, "incoming", latest[0].Content)
}
