package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/store"
)

// ErrRoomExists indicates a room creation collided with an existing slug.
var ErrRoomExists = errors.New("room already exists")

var slugSeparators = regexp.MustCompile(`[\s_]+`)

// RoomSlug derives a room's document ID from its display name: lowercase,
// whitespace collapsed to hyphens.
func RoomSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return slugSeparators.ReplaceAllString(slug, "-")
}

// RoomService owns room lifecycle and membership: creation, joining,
// listing, member profiles and per-room read cursors.
type RoomService struct {
	docs   store.DocumentStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewRoomService constructs a room service.
func NewRoomService(docs store.DocumentStore, logger zerolog.Logger) *RoomService {
	return &RoomService{
		docs:   docs,
		logger: logger.With().Str("component", "room_service").Logger(),
		now:    time.Now,
	}
}

// Create makes a new room with the creator as its first member. The room ID
// is a slug of the name, so two rooms cannot share a display name.
func (s *RoomService) Create(ctx context.Context, session Session, req dto.CreateRoomRequest) (models.Room, error) {
	slug := RoomSlug(req.Name)
	if slug == "" {
		return models.Room{}, ErrInvalidPayload
	}

	if _, err := s.docs.Get(ctx, models.RoomsCollection, slug); err == nil {
		return models.Room{}, ErrRoomExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.Room{}, err
	}

	room := models.Room{
		ID:        slug,
		Name:      strings.TrimSpace(req.Name),
		CreatedAt: s.now().UTC(),
		Members:   []string{session.UserID},
	}
	if err := s.docs.Set(ctx, models.RoomsCollection, room.ID, room.Fields(), false); err != nil {
		return models.Room{}, err
	}

	s.logger.Info().Str("room_id", room.ID).Str("user_id", session.UserID).Msg("room created")
	return room, nil
}

// Get reads a single room.
func (s *RoomService) Get(ctx context.Context, roomID string) (models.Room, error) {
	doc, err := s.docs.Get(ctx, models.RoomsCollection, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return models.RoomFromDocument(doc), nil
}

// List returns all rooms ordered by name.
func (s *RoomService) List(ctx context.Context) ([]models.Room, error) {
	snapshot, err := s.docs.Query(ctx, models.RoomsCollection, store.Query{OrderBy: "name"})
	if err != nil {
		return nil, err
	}

	rooms := make([]models.Room, 0, len(snapshot))
	for _, doc := range snapshot {
		rooms = append(rooms, models.RoomFromDocument(doc))
	}
	return rooms, nil
}

// Join adds the user to the room's member set. Joining twice is a no-op.
func (s *RoomService) Join(ctx context.Context, session Session, roomID string) (models.Room, error) {
	err := s.docs.AddToSet(ctx, models.RoomsCollection, roomID, "members", session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	return s.Get(ctx, roomID)
}

// Members resolves the room's member profiles, presence included.
func (s *RoomService) Members(ctx context.Context, roomID string) ([]models.User, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	members := make([]models.User, 0, len(room.Members))
	for _, userID := range room.Members {
		doc, err := s.docs.Get(ctx, models.UsersCollection, userID)
		if errors.Is(err, store.ErrNotFound) {
			// Member without a profile yet still shows up by ID.
			members = append(members, models.User{ID: userID, DisplayName: userID})
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, models.UserFromDocument(doc))
	}
	return members, nil
}

// MarkRead advances the caller's read cursor for the room. Cursors only
// record the moment of reading; they never rewind unseen state on their own.
func (s *RoomService) MarkRead(ctx context.Context, session Session, roomID string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}

	fields := map[string]any{
		"last_read." + roomID: models.EncodeTime(at.UTC()),
	}
	return s.docs.Set(ctx, models.UsersCollection, session.UserID, fields, true)
}

// EnsureProfile upserts the session identity into the user's profile
// document so that mention resolution and member listings can find it.
func (s *RoomService) EnsureProfile(ctx context.Context, session Session) error {
	fields := map[string]any{
		"uid":          session.UserID,
		"display_name": session.DisplayName,
	}
	return s.docs.Set(ctx, models.UsersCollection, session.UserID, fields, true)
}
