package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// ErrMessageNotFound indicates a reaction toggle addressed a missing message.
var ErrMessageNotFound = errors.New("message not found")

// ReactionAggregator toggles a user's vote on a per-emoji voter set. The
// underlying mutation is an atomic set-add/set-remove scoped to the single
// emoji key, so concurrent toggles by different users never lose each other.
type ReactionAggregator struct {
	docs   store.DocumentStore
	logger zerolog.Logger
	tracer trace.Tracer
}

// NewReactionAggregator constructs a reaction aggregator.
func NewReactionAggregator(docs store.DocumentStore, logger zerolog.Logger) *ReactionAggregator {
	return &ReactionAggregator{
		docs:   docs,
		logger: logger.With().Str("component", "reaction_aggregator").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/chatsync-api/internal/service/reaction"),
	}
}

// Toggle reads the current voter set for the emoji and flips the user's
// membership. Errors surface to the caller; this is one of the few
// operations whose failure the UI is expected to report.
func (a *ReactionAggregator) Toggle(ctx context.Context, userID, roomID, messageID, emoji string) error {
	spanCtx, span := a.tracer.Start(ctx, "reactions.toggle", trace.WithAttributes(
		attribute.String("chat.room_id", roomID),
		attribute.String("chat.message_id", messageID),
	))
	defer span.End()

	collection := models.MessagesCollection(roomID)
	doc, err := a.docs.Get(spanCtx, collection, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	message := models.MessageFromDocument(roomID, doc)
	field := "reactions." + emoji

	voted := false
	for _, voter := range message.Reactions[emoji] {
		if voter == userID {
			voted = true
			break
		}
	}

	if voted {
		err = a.docs.RemoveFromSet(spanCtx, collection, messageID, field, userID)
		observability.ReactionsToggled().WithLabelValues("remove").Inc()
	} else {
		err = a.docs.AddToSet(spanCtx, collection, messageID, field, userID)
		observability.ReactionsToggled().WithLabelValues("add").Inc()
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Summary reads a message and aggregates its reactions for the viewer.
func (a *ReactionAggregator) Summary(ctx context.Context, viewerID, roomID, messageID string) (map[string]dto.ReactionView, error) {
	doc, err := a.docs.Get(ctx, models.MessagesCollection(roomID), messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	message := models.MessageFromDocument(roomID, doc)
	return dto.NewReactionViews(message.Reactions, viewerID), nil
}
