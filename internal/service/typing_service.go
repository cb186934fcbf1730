package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/models"
	"github.com/noah-isme/chatsync-api/internal/observability"
	"github.com/noah-isme/chatsync-api/internal/store"
)

const (
	// typingExpiry is how long after the last keystroke the writer deletes
	// its own typing record.
	typingExpiry = 2 * time.Second
	// typingStaleness is the reader-side safety net: records older than
	// this are excluded from the display even if never deleted.
	typingStaleness = 3 * time.Second
)

// TypingCoordinator publishes and expires this session's typing records and
// exposes filtered "who is typing" views per room. Writes are lossy by
// design: no retries, failures logged and dropped.
type TypingCoordinator struct {
	session Session
	docs    store.DocumentStore
	logger  zerolog.Logger
	now     func() time.Time
	expiry  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTypingCoordinator binds a coordinator to one session.
func NewTypingCoordinator(session Session, docs store.DocumentStore, logger zerolog.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		session: session,
		docs:    docs,
		logger:  logger.With().Str("component", "typing_coordinator").Str("user_id", session.UserID).Logger(),
		now:     time.Now,
		expiry:  typingExpiry,
		timers:  make(map[string]*time.Timer),
	}
}

// Keystroke refreshes the typing record for a room and re-arms the expiry
// timer that deletes it after two quiet seconds. After Close it is a no-op;
// a keystroke that slips past the write while Close runs deletes its own
// record again so no orphan survives the teardown.
func (t *TypingCoordinator) Keystroke(ctx context.Context, roomID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	record := models.TypingRecord{
		UserID:      t.session.UserID,
		DisplayName: t.session.DisplayName,
		Timestamp:   t.now(),
	}
	if err := t.docs.Set(ctx, models.TypingCollection(roomID), t.session.UserID, record.Fields(), false); err != nil {
		t.logger.Debug().Err(err).Str("room_id", roomID).Msg("failed to write typing record")
		return
	}
	observability.TypingWrites().Inc()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.deleteRecord(ctx, roomID)
		return
	}
	if timer, ok := t.timers[roomID]; ok {
		timer.Stop()
	}
	t.timers[roomID] = time.AfterFunc(t.expiry, func() {
		t.expire(roomID)
	})
	t.mu.Unlock()
}

// Sent clears the typing record immediately, called when the composed
// message goes out.
func (t *TypingCoordinator) Sent(ctx context.Context, roomID string) {
	t.mu.Lock()
	if timer, ok := t.timers[roomID]; ok {
		timer.Stop()
		delete(t.timers, roomID)
	}
	t.mu.Unlock()

	t.deleteRecord(ctx, roomID)
}

func (t *TypingCoordinator) expire(roomID string) {
	t.mu.Lock()
	delete(t.timers, roomID)
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), typingExpiry)
	defer cancel()
	t.deleteRecord(ctx, roomID)
}

func (t *TypingCoordinator) deleteRecord(ctx context.Context, roomID string) {
	if err := t.docs.Delete(ctx, models.TypingCollection(roomID), t.session.UserID); err != nil {
		t.logger.Debug().Err(err).Str("room_id", roomID).Msg("failed to delete typing record")
	}
}

// WatchRoom streams the filtered typing roster for a room: the session's own
// user is excluded, as is any record past the staleness window.
func (t *TypingCoordinator) WatchRoom(ctx context.Context, roomID string, handler func([]models.TypingRecord)) (store.Subscription, error) {
	return t.docs.Subscribe(ctx, models.TypingCollection(roomID), store.Query{}, func(snapshot store.Snapshot, err error) {
		if err != nil {
			t.logger.Debug().Err(err).Str("room_id", roomID).Msg("typing query failed")
			return
		}

		records := make([]models.TypingRecord, 0, len(snapshot))
		for _, doc := range snapshot {
			records = append(records, models.TypingRecordFromDocument(doc))
		}
		handler(ActiveTypists(records, t.session.UserID, t.now()))
	})
}

// Close cancels every pending expiry timer and clears this session's typing
// records best-effort.
func (t *TypingCoordinator) Close(ctx context.Context) {
	t.mu.Lock()
	t.closed = true
	rooms := make([]string, 0, len(t.timers))
	for roomID, timer := range t.timers {
		timer.Stop()
		rooms = append(rooms, roomID)
	}
	t.timers = make(map[string]*time.Timer)
	t.mu.Unlock()

	for _, roomID := range rooms {
		t.deleteRecord(ctx, roomID)
	}
}

// ActiveTypists filters typing records down to the ones a reader should
// display: not the reader's own, and fresher than the staleness window.
func ActiveTypists(records []models.TypingRecord, selfID string, now time.Time) []models.TypingRecord {
	out := make([]models.TypingRecord, 0, len(records))
	for _, record := range records {
		if record.UserID == selfID {
			continue
		}
		if record.Timestamp.IsZero() || now.Sub(record.Timestamp) >= typingStaleness {
			continue
		}
		out = append(out, record)
	}
	return out
}
