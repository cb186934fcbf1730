package models

import (
	"time"

	"github.com/noah-isme/chatsync-api/internal/store"
)

// RoomsCollection holds one document per chat room. Message and typing
// documents live in per-room subcollections addressed by the helpers below.
const RoomsCollection = "chat-rooms"

// MessagesCollection returns the message subcollection path for a room.
func MessagesCollection(roomID string) string {
	return RoomsCollection + "/" + roomID + "/messages"
}

// TypingCollection returns the typing subcollection path for a room.
func TypingCollection(roomID string) string {
	return RoomsCollection + "/" + roomID + "/typing"
}

// Room is a chat room document. Membership only ever grows; rooms are never
// deleted.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members"`
}

// RoomFromDocument decodes a room document.
func RoomFromDocument(doc store.Document) Room {
	name := fieldString(doc.Fields, "name")
	if name == "" {
		name = doc.ID
	}

	return Room{
		ID:        doc.ID,
		Name:      name,
		CreatedAt: fieldTime(doc.Fields, "created_at"),
		Members:   fieldStringSlice(doc.Fields, "members"),
	}
}

// Fields renders the room document for creation.
func (r Room) Fields() map[string]any {
	members := make([]any, 0, len(r.Members))
	for _, member := range r.Members {
		members = append(members, member)
	}

	return map[string]any{
		"name":       r.Name,
		"created_at": EncodeTime(r.CreatedAt),
		"members":    members,
	}
}

// HasMember reports whether the user belongs to the room.
func (r Room) HasMember(userID string) bool {
	for _, member := range r.Members {
		if member == userID {
			return true
		}
	}
	return false
}
