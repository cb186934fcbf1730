package dto

import (
	"time"

	"github.com/noah-isme/chatsync-api/internal/models"
)

// CreateRoomRequest describes the payload to create a chat room.
type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,min=1,max=128"`
}

// MarkReadRequest advances the caller's read cursor for a room. At defaults
// to the current server time when omitted.
type MarkReadRequest struct {
	At *time.Time `json:"at"`
}

// RoomResponse is the serialized representation of a room.
type RoomResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Members   []string  `json:"members"`
}

// NewRoomResponse converts a room model into a DTO.
func NewRoomResponse(room models.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Name:      room.Name,
		CreatedAt: room.CreatedAt,
		Members:   room.Members,
	}
}

// NewRoomResponseSlice converts a slice of room models into DTOs.
func NewRoomResponseSlice(rooms []models.Room) []RoomResponse {
	out := make([]RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, NewRoomResponse(room))
	}
	return out
}

// MemberResponse is a room member profile with presence.
type MemberResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Online      bool      `json:"online"`
	LastActive  time.Time `json:"last_active"`
}

// NewMemberResponse converts a user profile into a member DTO.
func NewMemberResponse(user models.User) MemberResponse {
	return MemberResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		PhotoURL:    user.PhotoURL,
		Online:      user.Online,
		LastActive:  user.LastActive,
	}
}

// RoomStatus is the derived per-room view consumed by room lists: whether
// the current user has unseen content, and whether any of it mentions them.
type RoomStatus struct {
	Unread     bool `json:"unread"`
	HasMention bool `json:"has_mention"`
}
