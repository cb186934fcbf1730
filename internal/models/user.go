package models

import (
	"time"

	"github.com/noah-isme/chatsync-api/internal/store"
)

// UsersCollection holds one profile document per registered user.
const UsersCollection = "users"

// User is a profile document: identity, presence mirror and per-room read
// cursors. Online and LastActive are best-effort mirrors of the transient
// presence value.
type User struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	PhotoURL    string               `json:"photo_url"`
	Online      bool                 `json:"online"`
	LastActive  time.Time            `json:"last_active"`
	LastRead    map[string]time.Time `json:"last_read"`
}

// UserFromDocument decodes a profile document.
func UserFromDocument(doc store.Document) User {
	id := doc.ID
	if id == "" {
		id = fieldString(doc.Fields, "uid")
	}

	return User{
		ID:          id,
		DisplayName: fieldString(doc.Fields, "display_name"),
		PhotoURL:    fieldString(doc.Fields, "photo_url"),
		Online:      fieldBool(doc.Fields, "online"),
		LastActive:  fieldTime(doc.Fields, "last_active"),
		LastRead:    fieldTimeMap(doc.Fields, "last_read"),
	}
}

// Fields renders the full profile document for a non-merge write.
func (u User) Fields() map[string]any {
	lastRead := make(map[string]any, len(u.LastRead))
	for room, at := range u.LastRead {
		lastRead[room] = EncodeTime(at)
	}

	return map[string]any{
		"uid":          u.ID,
		"display_name": u.DisplayName,
		"photo_url":    u.PhotoURL,
		"online":       u.Online,
		"last_active":  EncodeTime(u.LastActive),
		"last_read":    lastRead,
	}
}
