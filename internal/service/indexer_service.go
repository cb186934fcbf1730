package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/dto"
	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

const statusBufferSize = 8

// lastMessageState is the tri-state last-message knowledge for a room:
// pending until the first snapshot resolves, then either empty or a known
// newest message. failed marks a degraded room that reports no unread
// content until its query recovers.
type lastMessageState struct {
	resolved bool
	failed   bool
	exists   bool
	senderID string
	at       time.Time
}

// ConversationIndexer derives the per-room unread/mention status map for one
// session. All inputs arrive through independent subscriptions whose
// callbacks may interleave in any order; recomputation reads only the
// latest-known value of each input, so it is idempotent and
// order-independent.
type ConversationIndexer struct {
	session Session
	docs    store.DocumentStore
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	rooms       map[string]models.Room
	lastMessage map[string]lastMessageState
	cursors     map[string]time.Time
	mentions    map[string]bool
	mentionSeq  map[string]uint64
	status      map[string]dto.RoomStatus
	subscribers map[chan map[string]dto.RoomStatus]struct{}

	roomsSub   store.Subscription
	profileSub store.Subscription
	msgSubs    map[string]store.Subscription
}

// NewConversationIndexer binds an indexer to one session.
func NewConversationIndexer(session Session, docs store.DocumentStore, logger zerolog.Logger) *ConversationIndexer {
	return &ConversationIndexer{
		session:     session,
		docs:        docs,
		logger:      logger.With().Str("component", "conversation_indexer").Str("user_id", session.UserID).Logger(),
		now:         time.Now,
		rooms:       make(map[string]models.Room),
		lastMessage: make(map[string]lastMessageState),
		cursors:     make(map[string]time.Time),
		mentions:    make(map[string]bool),
		mentionSeq:  make(map[string]uint64),
		status:      make(map[string]dto.RoomStatus),
		subscribers: make(map[chan map[string]dto.RoomStatus]struct{}),
		msgSubs:     make(map[string]store.Subscription),
	}
}

// Start subscribes to the room list and to the session user's profile. Per
// room last-message subscriptions are managed as rooms appear and disappear.
func (x *ConversationIndexer) Start(ctx context.Context) error {
	x.mu.Lock()
	x.ctx = ctx
	x.mu.Unlock()

	roomsSub, err := x.docs.Subscribe(ctx, models.RoomsCollection, store.Query{}, x.handleRooms)
	if err != nil {
		return err
	}
	x.roomsSub = roomsSub

	profileQuery := store.Query{
		Filters: []store.Filter{{Field: "uid", Op: "==", Value: x.session.UserID}},
		Limit:   1,
	}
	profileSub, err := x.docs.Subscribe(ctx, models.UsersCollection, profileQuery, x.handleProfile)
	if err != nil {
		x.roomsSub.Cancel()
		return err
	}
	x.profileSub = profileSub

	return nil
}

// Stop releases every subscription owned by the indexer and closes
// subscriber channels.
func (x *ConversationIndexer) Stop() {
	if x.roomsSub != nil {
		x.roomsSub.Cancel()
	}
	if x.profileSub != nil {
		x.profileSub.Cancel()
	}

	x.mu.Lock()
	for _, sub := range x.msgSubs {
		sub.Cancel()
	}
	x.msgSubs = make(map[string]store.Subscription)
	for ch := range x.subscribers {
		close(ch)
	}
	x.subscribers = make(map[chan map[string]dto.RoomStatus]struct{})
	x.mu.Unlock()
}

// Status returns a copy of the latest computed status map.
func (x *ConversationIndexer) Status() map[string]dto.RoomStatus {
	x.mu.Lock()
	defer x.mu.Unlock()
	return copyStatus(x.status)
}

// Subscribe registers a status-map consumer. The returned cancel function
// must be called when the consumer's scope ends.
func (x *ConversationIndexer) Subscribe() (<-chan map[string]dto.RoomStatus, func()) {
	ch := make(chan map[string]dto.RoomStatus, statusBufferSize)

	x.mu.Lock()
	x.subscribers[ch] = struct{}{}
	// Deliver the current view immediately so late subscribers do not wait
	// for the next input change.
	ch <- copyStatus(x.status)
	x.mu.Unlock()

	cancel := func() {
		x.mu.Lock()
		if _, ok := x.subscribers[ch]; ok {
			delete(x.subscribers, ch)
			close(ch)
		}
		x.mu.Unlock()
	}
	return ch, cancel
}

func (x *ConversationIndexer) handleRooms(snapshot store.Snapshot, err error) {
	if err != nil {
		x.logger.Warn().Err(err).Msg("room list query failed")
		return
	}

	x.mu.Lock()
	seen := make(map[string]struct{}, len(snapshot))
	var added []string
	for _, doc := range snapshot {
		room := models.RoomFromDocument(doc)
		seen[room.ID] = struct{}{}
		if _, ok := x.rooms[room.ID]; !ok {
			added = append(added, room.ID)
		}
		x.rooms[room.ID] = room
	}
	var removed []store.Subscription
	for roomID := range x.rooms {
		if _, ok := seen[roomID]; ok {
			continue
		}
		delete(x.rooms, roomID)
		delete(x.lastMessage, roomID)
		delete(x.mentions, roomID)
		if sub, ok := x.msgSubs[roomID]; ok {
			removed = append(removed, sub)
			delete(x.msgSubs, roomID)
		}
	}
	ctx := x.ctx
	x.mu.Unlock()

	for _, sub := range removed {
		sub.Cancel()
	}
	for _, roomID := range added {
		x.watchLastMessage(ctx, roomID)
	}

	x.recompute()
}

func (x *ConversationIndexer) watchLastMessage(ctx context.Context, roomID string) {
	query := store.Query{OrderBy: "created_at", Descending: true, Limit: 1}
	sub, err := x.docs.Subscribe(ctx, models.MessagesCollection(roomID), query, func(snapshot store.Snapshot, err error) {
		x.handleLastMessage(roomID, snapshot, err)
	})
	if err != nil {
		x.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to watch last message")
		x.mu.Lock()
		x.lastMessage[roomID] = lastMessageState{resolved: true, failed: true}
		x.mu.Unlock()
		x.recompute()
		return
	}

	x.mu.Lock()
	if _, stillPresent := x.rooms[roomID]; stillPresent {
		x.msgSubs[roomID] = sub
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()
	sub.Cancel()
}

func (x *ConversationIndexer) handleLastMessage(roomID string, snapshot store.Snapshot, err error) {
	state := lastMessageState{resolved: true}
	switch {
	case err != nil:
		// Degrade this room only; other rooms keep computing.
		state.failed = true
		x.logger.Warn().Err(err).Str("room_id", roomID).Msg("last message query failed")
	case len(snapshot) > 0:
		message := models.MessageFromDocument(roomID, snapshot[0])
		state.exists = true
		state.senderID = message.SenderID
		state.at = message.CreatedAt
	}

	x.mu.Lock()
	if _, ok := x.rooms[roomID]; !ok {
		x.mu.Unlock()
		return
	}
	x.lastMessage[roomID] = state
	x.mu.Unlock()

	x.recompute()
}

func (x *ConversationIndexer) handleProfile(snapshot store.Snapshot, err error) {
	if err != nil {
		x.logger.Warn().Err(err).Msg("profile query failed")
		return
	}

	cursors := map[string]time.Time{}
	if len(snapshot) > 0 {
		cursors = models.UserFromDocument(snapshot[0]).LastRead
	}

	x.mu.Lock()
	x.cursors = cursors
	x.mu.Unlock()

	x.recompute()
}

// recompute rebuilds the status map from latest-known inputs and kicks off
// mention checks for candidate rooms. Mention query results arrive
// asynchronously; until they do, a room keeps its previous mention flag so
// pending state never reads as false.
func (x *ConversationIndexer) recompute() {
	observability.StatusRecomputes().Inc()

	type mentionCheck struct {
		roomID string
		cursor time.Time
		hasCur bool
		seq    uint64
	}

	x.mu.Lock()
	ctx := x.ctx
	status := make(map[string]dto.RoomStatus, len(x.rooms))
	var checks []mentionCheck

	for roomID := range x.rooms {
		cursor, hasCursor := x.cursors[roomID]
		last, resolved := x.lastMessage[roomID]

		unread := false
		if resolved && last.resolved && !last.failed && last.exists && last.senderID != x.session.UserID {
			unread = !hasCursor || last.at.After(cursor)
		}

		hasMention := false
		degraded := resolved && last.resolved && last.failed
		pending := !resolved || !last.resolved

		switch {
		case degraded:
			// failure policy: both flags read false for this room
		case pending:
			hasMention = x.mentions[roomID]
		case unread || !hasCursor:
			hasMention = x.mentions[roomID]
			x.mentionSeq[roomID]++
			checks = append(checks, mentionCheck{roomID: roomID, cursor: cursor, hasCur: hasCursor, seq: x.mentionSeq[roomID]})
		default:
			// Fully read rooms cannot need a mention check until a new
			// message flips unread again.
			x.mentions[roomID] = false
		}

		status[roomID] = dto.RoomStatus{Unread: unread, HasMention: hasMention}
	}

	x.status = status
	x.publishLocked(copyStatus(status))
	x.mu.Unlock()

	for _, check := range checks {
		go x.checkMentions(ctx, check.roomID, check.cursor, check.hasCur, check.seq)
	}
}

func (x *ConversationIndexer) checkMentions(ctx context.Context, roomID string, cursor time.Time, hasCursor bool, seq uint64) {
	if ctx == nil {
		ctx = context.Background()
	}

	filters := []store.Filter{{Field: "mentions", Op: "array-contains", Value: x.session.UserID}}
	if hasCursor {
		filters = append(filters, store.Filter{Field: "created_at", Op: ">", Value: models.EncodeTime(cursor)})
	}
	query := store.Query{Filters: filters, OrderBy: "created_at", Descending: true, Limit: 1}

	snapshot, err := x.docs.Query(ctx, models.MessagesCollection(roomID), query)
	hasMention := err == nil && len(snapshot) > 0
	if err != nil {
		x.logger.Warn().Err(err).Str("room_id", roomID).Msg("mention check failed")
	}

	x.mu.Lock()
	if x.mentionSeq[roomID] != seq {
		// A newer check is in flight; its result wins.
		x.mu.Unlock()
		return
	}
	if _, ok := x.rooms[roomID]; !ok {
		x.mu.Unlock()
		return
	}
	x.mentions[roomID] = hasMention

	current, ok := x.status[roomID]
	if !ok || current.HasMention == hasMention {
		x.mu.Unlock()
		return
	}
	current.HasMention = hasMention
	x.status[roomID] = current
	x.publishLocked(copyStatus(x.status))
	x.mu.Unlock()
}

// publishLocked fans a status map out to every subscriber channel. The
// caller holds the mutex; cancellation closes channels under the same mutex,
// so a send can never race a close. Sends never block, which keeps holding
// the lock here cheap.
func (x *ConversationIndexer) publishLocked(status map[string]dto.RoomStatus) {
	for ch := range x.subscribers {
		select {
		case ch <- status:
		default:
			x.logger.Debug().Msg("dropping status update for slow subscriber")
		}
	}
}

func copyStatus(status map[string]dto.RoomStatus) map[string]dto.RoomStatus {
	out := make(map[string]dto.RoomStatus, len(status))
	for roomID, roomStatus := range status {
		out[roomID] = roomStatus
	}
	return out
}
