package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// Service-level errors surfaced to handlers for status mapping.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotRoomMember  = errors.New("user is not a member of the room")
	ErrNotSender      = errors.New("only the original sender may modify a message")
	ErrNotEditable    = errors.New("only text messages can be edited")
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrInvalidPayload = errors.New("invalid payload")
)

const defaultHistoryLimit = 50

// MessageService owns the message lifecycle: sending, editing, deleting,
// history reads and live streams. Mention resolution happens once at send
// time; readers consume the stored mention list.
type MessageService struct {
	docs      store.DocumentStore
	mentions  *MentionResolver
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMessageService constructs a message service.
func NewMessageService(docs store.DocumentStore, mentions *MentionResolver, logger zerolog.Logger) *MessageService {
	return &MessageService{
		docs:      docs,
		mentions:  mentions,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "message_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/chatsync-api/internal/service/message"),
		now:       time.Now,
	}
}

// Send validates membership, sanitizes text content, resolves mentions and
// persists the new message. The caller's typing record for the room is
// cleared best-effort alongside the write.
func (s *MessageService) Send(ctx context.Context, session Session, req dto.SendMessageRequest) (models.Message, error) {
	spanCtx, span := s.tracer.Start(ctx, "messages.send", trace.WithAttributes(
		attribute.String("chat.room_id", req.RoomID),
	))
	defer span.End()

	room, err := s.requireMember(spanCtx, req.RoomID, session.UserID)
	if err != nil {
		return models.Message{}, err
	}

	kind := req.Kind
	if kind == "" {
		kind = models.MessageKindText
	}

	content := req.Content
	mentions := []string{}
	if kind == models.MessageKindText {
		content = strings.TrimSpace(s.sanitizer.Sanitize(content))
		if content == "" {
			return models.Message{}, ErrEmptyMessage
		}
		mentions = s.mentions.Resolve(spanCtx, content)
	}

	message := models.Message{
		ID:         uuid.NewString(),
		RoomID:     room.ID,
		SenderID:   session.UserID,
		SenderName: session.DisplayName,
		Kind:       kind,
		Content:    content,
		CreatedAt:  s.now().UTC(),
		Mentions:   mentions,
	}
	s.fillSenderProfile(spanCtx, &message)

	if err := s.docs.Set(spanCtx, models.MessagesCollection(room.ID), message.ID, message.Fields(), false); err != nil {
		span.RecordError(err)
		return models.Message{}, err
	}
	observability.MessagesSent().WithLabelValues(kind).Inc()

	// The send itself implies the composer stopped typing.
	if err := s.docs.Delete(spanCtx, models.TypingCollection(room.ID), session.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Debug().Err(err).Str("room_id", room.ID).Msg("typing record cleanup failed")
	}

	return message, nil
}

// Edit replaces a text message's content. Only the original sender may edit,
// and only text messages are editable. Mentions are re-resolved so that the
// stored list keeps matching the visible content.
func (s *MessageService) Edit(ctx context.Context, session Session, req dto.EditMessageRequest) (models.Message, error) {
	collection := models.MessagesCollection(req.RoomID)
	doc, err := s.docs.Get(ctx, collection, req.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	message := models.MessageFromDocument(req.RoomID, doc)
	if message.SenderID != session.UserID {
		return models.Message{}, ErrNotSender
	}
	if message.Kind != models.MessageKindText {
		return models.Message{}, ErrNotEditable
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(req.Content))
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	message.Content = content
	message.EditedAt = s.now().UTC()
	message.Mentions = s.mentions.Resolve(ctx, content)

	mentions := make([]any, 0, len(message.Mentions))
	for _, mention := range message.Mentions {
		mentions = append(mentions, mention)
	}
	fields := map[string]any{
		"content":   message.Content,
		"edited_at": models.EncodeTime(message.EditedAt),
		"mentions":  mentions,
	}
	if err := s.docs.Update(ctx, collection, req.MessageID, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return message, nil
}

// Delete removes a message. Only the original sender may delete.
func (s *MessageService) Delete(ctx context.Context, session Session, roomID, messageID string) error {
	collection := models.MessagesCollection(roomID)
	doc, err := s.docs.Get(ctx, collection, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}

	if models.MessageFromDocument(roomID, doc).SenderID != session.UserID {
		return ErrNotSender
	}
	if err := s.docs.Delete(ctx, collection, messageID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// History returns the room's messages in ascending creation order.
func (s *MessageService) History(ctx context.Context, session Session, roomID string, limit int) ([]models.Message, error) {
	if _, err := s.requireMember(ctx, roomID, session.UserID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	snapshot, err := s.docs.Query(ctx, models.MessagesCollection(roomID), store.Query{
		OrderBy: "created_at",
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeMessages(roomID, snapshot), nil
}

// Watch streams the room's message list, ascending by creation time, to the
// handler on every change.
func (s *MessageService) Watch(ctx context.Context, session Session, roomID string, handler func([]models.Message, error)) (store.Subscription, error) {
	if _, err := s.requireMember(ctx, roomID, session.UserID); err != nil {
		return nil, err
	}

	return s.docs.Subscribe(ctx, models.MessagesCollection(roomID), store.Query{OrderBy: "created_at"}, func(snapshot store.Snapshot, err error) {
		if err != nil {
			handler(nil, err)
			return
		}
		handler(decodeMessages(roomID, snapshot), nil)
	})
}

func (s *MessageService) requireMember(ctx context.Context, roomID, userID string) (models.Room, error) {
	doc, err := s.docs.Get(ctx, models.RoomsCollection, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}

	room := models.RoomFromDocument(doc)
	if !room.HasMember(userID) {
		return models.Room{}, ErrNotRoomMember
	}
	return room, nil
}

// fillSenderProfile copies display name and avatar from the sender's stored
// profile so renderers never need a second lookup. The session identity is
// the fallback when the profile read fails.
func (s *MessageService) fillSenderProfile(ctx context.Context, message *models.Message) {
	doc, err := s.docs.Get(ctx, models.UsersCollection, message.SenderID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Str("user_id", message.SenderID).Msg("sender profile lookup failed")
		}
		return
	}

	profile := models.UserFromDocument(doc)
	if profile.DisplayName != "" {
		message.SenderName = profile.DisplayName
	}
	message.PhotoURL = profile.PhotoURL
}

func decodeMessages(roomID string, snapshot store.Snapshot) []models.Message {
	messages := make([]models.Message, 0, len(snapshot))
	for _, doc := range snapshot {
		messages = append(messages, models.MessageFromDocument(roomID, doc))
	}
	return messages
}
