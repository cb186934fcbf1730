package models

import (
	"time"

	"github.com/noah-isme/chatsync-api/internal/store"
)

// Message kinds. Image and file messages carry an upload reference in
// Content instead of text.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// Message is a single message document inside a room's subcollection.
// Room, sender, kind and creation time are immutable after creation;
// content and the edit timestamp change only through the original sender,
// reactions through any room member.
type Message struct {
	ID         string              `json:"id"`
	RoomID     string              `json:"room_id"`
	SenderID   string              `json:"sender_id"`
	SenderName string              `json:"sender_name"`
	PhotoURL   string              `json:"photo_url"`
	Kind       string              `json:"kind"`
	Content    string              `json:"content"`
	CreatedAt  time.Time           `json:"created_at"`
	EditedAt   time.Time           `json:"edited_at,omitempty"`
	Reactions  map[string][]string `json:"reactions"`
	Mentions   []string            `json:"mentions"`
}

// MessageFromDocument decodes a message document.
func MessageFromDocument(roomID string, doc store.Document) Message {
	kind := fieldString(doc.Fields, "kind")
	if kind == "" {
		kind = MessageKindText
	}

	return Message{
		ID:         doc.ID,
		RoomID:     roomID,
		SenderID:   fieldString(doc.Fields, "sender_id"),
		SenderName: fieldString(doc.Fields, "sender_name"),
		PhotoURL:   fieldString(doc.Fields, "photo_url"),
		Kind:       kind,
		Content:    fieldString(doc.Fields, "content"),
		CreatedAt:  fieldTime(doc.Fields, "created_at"),
		EditedAt:   fieldTime(doc.Fields, "edited_at"),
		Reactions:  fieldStringSetMap(doc.Fields, "reactions"),
		Mentions:   fieldStringSlice(doc.Fields, "mentions"),
	}
}

// Fields renders the message document for creation.
func (m Message) Fields() map[string]any {
	mentions := make([]any, 0, len(m.Mentions))
	for _, mention := range m.Mentions {
		mentions = append(mentions, mention)
	}

	fields := map[string]any{
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"photo_url":   m.PhotoURL,
		"kind":        m.Kind,
		"content":     m.Content,
		"created_at":  EncodeTime(m.CreatedAt),
		"reactions":   map[string]any{},
		"mentions":    mentions,
	}
	if !m.EditedAt.IsZero() {
		fields["edited_at"] = EncodeTime(m.EditedAt)
	}
	return fields
}

// TypingRecord marks a user as actively composing in a room. Records are
// ephemeral: deleted on send or expiry, ignored by readers once stale.
type TypingRecord struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// TypingRecordFromDocument decodes a typing document.
func TypingRecordFromDocument(doc store.Document) TypingRecord {
	return TypingRecord{
		UserID:      doc.ID,
		DisplayName: fieldString(doc.Fields, "display_name"),
		Timestamp:   fieldTime(doc.Fields, "timestamp"),
	}
}

// Fields renders the typing document.
func (t TypingRecord) Fields() map[string]any {
	return map[string]any{
		"display_name": t.DisplayName,
		"timestamp":    EncodeTime(t.Timestamp),
	}
}
