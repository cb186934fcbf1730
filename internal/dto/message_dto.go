package dto

import (
	"time"

	"github.com/noah-isme/chatsync-api/internal/models"
)

// SendMessageRequest is the payload to post a message into a room.
type SendMessageRequest struct {
	RoomID  string `json:"room_id" validate:"required,min=1,max=128"`
	Kind    string `json:"kind" validate:"omitempty,oneof=text image file"`
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// EditMessageRequest is the payload to replace a text message's content.
type EditMessageRequest struct {
	RoomID    string `json:"room_id" validate:"required,min=1,max=128"`
	MessageID string `json:"message_id" validate:"required,max=64"`
	Content   string `json:"content" validate:"required,min=1,max=4000"`
}

// ReactionToggleRequest toggles the caller's vote for one emoji.
type ReactionToggleRequest struct {
	Emoji string `json:"emoji" validate:"required,min=1,max=32"`
}

// ReactionView aggregates one emoji's voters for a viewer.
type ReactionView struct {
	Count   int  `json:"count"`
	Reacted bool `json:"did_current_user_vote"`
}

// MessageResponse is the serialized representation of a message, with
// reactions aggregated from the viewer's perspective.
type MessageResponse struct {
	ID         string                  `json:"id"`
	RoomID     string                  `json:"room_id"`
	SenderID   string                  `json:"sender_id"`
	SenderName string                  `json:"sender_name"`
	PhotoURL   string                  `json:"photo_url,omitempty"`
	Kind       string                  `json:"kind"`
	Content    string                  `json:"content"`
	CreatedAt  time.Time               `json:"created_at"`
	EditedAt   *time.Time              `json:"edited_at,omitempty"`
	Mentions   []string                `json:"mentions,omitempty"`
	Reactions  map[string]ReactionView `json:"reactions,omitempty"`
}

// NewMessageResponse converts a message model into a DTO as seen by viewerID.
func NewMessageResponse(message models.Message, viewerID string) MessageResponse {
	response := MessageResponse{
		ID:         message.ID,
		RoomID:     message.RoomID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		PhotoURL:   message.PhotoURL,
		Kind:       message.Kind,
		Content:    message.Content,
		CreatedAt:  message.CreatedAt,
		Mentions:   message.Mentions,
		Reactions:  NewReactionViews(message.Reactions, viewerID),
	}
	if !message.EditedAt.IsZero() {
		edited := message.EditedAt
		response.EditedAt = &edited
	}
	return response
}

// NewMessageResponseSlice converts message models into DTOs for one viewer.
func NewMessageResponseSlice(messages []models.Message, viewerID string) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message, viewerID))
	}
	return out
}

// NewReactionViews aggregates a raw reaction map into per-emoji counts with
// the viewer's own vote flagged. Empty voter sets are dropped.
func NewReactionViews(reactions map[string][]string, viewerID string) map[string]ReactionView {
	if len(reactions) == 0 {
		return nil
	}

	out := make(map[string]ReactionView, len(reactions))
	for emoji, voters := range reactions {
		if len(voters) == 0 {
			continue
		}
		view := ReactionView{Count: len(voters)}
		for _, voter := range voters {
			if voter == viewerID {
				view.Reacted = true
				break
			}
		}
		out[emoji] = view
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// TypingUserResponse is one entry in a room's "who is typing" display.
type TypingUserResponse struct {
	DisplayName string `json:"display_name"`
}

// NewTypingUserResponses converts typing records into display entries.
func NewTypingUserResponses(records []models.TypingRecord) []TypingUserResponse {
	out := make([]TypingUserResponse, 0, len(records))
	for _, record := range records {
		name := record.DisplayName
		if name == "" {
			name = record.UserID
		}
		out = append(out, TypingUserResponse{DisplayName: name})
	}
	return out
}
