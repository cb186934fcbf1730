package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// PatternSubscriber extends EphemeralStore with prefix-wide value watches,
// used by the presence mirror loop to observe transitions for every user.
type PatternSubscriber interface {
	SubscribeValuePrefix(ctx context.Context, pathPrefix string, handler func(path, value string, exists bool)) (Subscription, error)
}

// EphemeralOptions tunes the Redis-backed ephemeral store.
type EphemeralOptions struct {
	// Prefix namespaces every key and channel.
	Prefix string
	// HeartbeatInterval is the cadence of liveness pings and session key
	// refreshes.
	HeartbeatInterval time.Duration
	// SessionTTL bounds how long a session key survives without refresh.
	// Once it lapses the janitor applies the session's deferred writes.
	SessionTTL time.Duration
}

func (o EphemeralOptions) withDefaults() EphemeralOptions {
	if o.Prefix == "" {
		o.Prefix = "chatsync"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 3 * time.Second
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 10 * time.Second
	}
	return o
}

type valueEvent struct {
	Path   string `json:"path"`
	Value  string `json:"value"`
	Exists bool   `json:"exists"`
}

// RedisEphemeralStore is one client session against the ephemeral presence
// store. Redis has no native on-disconnect hook, so deferred writes are kept
// in a per-session hash and applied by a janitor once the session's
// TTL-refreshed heartbeat key expires.
type RedisEphemeralStore struct {
	client    *redis.Client
	opts      EphemeralOptions
	sessionID string
	logger    zerolog.Logger

	mu        sync.Mutex
	connected bool
	connSubs  map[*connSubscription]struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

type connSubscription struct {
	store   *RedisEphemeralStore
	handler func(connected bool)
	once    sync.Once
}

// NewRedisEphemeralStore creates a per-session ephemeral store client.
func NewRedisEphemeralStore(client *redis.Client, opts EphemeralOptions, logger zerolog.Logger) *RedisEphemeralStore {
	return &RedisEphemeralStore{
		client:    client,
		opts:      opts.withDefaults(),
		sessionID: uuid.NewString(),
		logger:    logger.With().Str("component", "ephemeral_store").Logger(),
		connSubs:  make(map[*connSubscription]struct{}),
	}
}

// SessionID identifies this connection for deferred-write bookkeeping.
func (s *RedisEphemeralStore) SessionID() string {
	return s.sessionID
}

// Start launches the heartbeat loop. Connection-state subscribers are
// notified on every transition observed by the loop.
func (s *RedisEphemeralStore) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.heartbeatLoop(loopCtx)
}

// Close performs the clean-shutdown path: the heartbeat stops, the session
// key and deferred-write ledger are removed so no stale offline write fires
// later.
func (s *RedisEphemeralStore) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()

		pipe := s.client.Pipeline()
		pipe.Del(ctx, s.sessionKey())
		pipe.Del(ctx, s.deferredKey())
		pipe.SRem(ctx, s.sessionsKey(), s.sessionID)
		if _, err := pipe.Exec(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("ephemeral session teardown incomplete")
		}
	})
}

func (s *RedisEphemeralStore) SetValue(ctx context.Context, path, value string) error {
	if err := s.client.Set(ctx, s.valueKey(path), value, 0).Err(); err != nil {
		return err
	}
	s.publishValue(ctx, path, value, true)
	return nil
}

func (s *RedisEphemeralStore) DeleteValue(ctx context.Context, path string) error {
	if err := s.client.Del(ctx, s.valueKey(path)).Err(); err != nil {
		return err
	}
	s.publishValue(ctx, path, "", false)
	return nil
}

func (s *RedisEphemeralStore) SubscribeValue(ctx context.Context, path string, handler ValueHandler) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.valueChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	// Initial state before streaming changes.
	if value, err := s.client.Get(ctx, s.valueKey(path)).Result(); err == nil {
		handler(value, true)
	} else if errors.Is(err, redis.Nil) {
		handler("", false)
	}

	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var event valueEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn().Err(err).Msg("invalid ephemeral value event")
				continue
			}
			handler(event.Value, event.Exists)
		}
	}()

	return CancelFunc(func() {
		_ = pubsub.Close()
	}), nil
}

// SubscribeValuePrefix watches every path under the given prefix.
func (s *RedisEphemeralStore) SubscribeValuePrefix(ctx context.Context, pathPrefix string, handler func(path, value string, exists bool)) (Subscription, error) {
	pattern := s.valueChannel(pathPrefix) + "*"
	pubsub := s.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for msg := range ch {
			var event valueEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Warn().Err(err).Msg("invalid ephemeral value event")
				continue
			}
			handler(event.Path, event.Value, event.Exists)
		}
	}()

	return CancelFunc(func() {
		_ = pubsub.Close()
	}), nil
}

func (s *RedisEphemeralStore) OnDisconnectSetValue(ctx context.Context, path, value string) error {
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.deferredKey(), path, value)
	pipe.SAdd(ctx, s.sessionsKey(), s.sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisEphemeralStore) OnDisconnectCancel(ctx context.Context, path string) error {
	return s.client.HDel(ctx, s.deferredKey(), path).Err()
}

func (s *RedisEphemeralStore) Connected(ctx context.Context, handler func(connected bool)) (Subscription, error) {
	sub := &connSubscription{store: s, handler: handler}

	s.mu.Lock()
	s.connSubs[sub] = struct{}{}
	current := s.connected
	s.mu.Unlock()

	if current {
		handler(true)
	}

	return sub, nil
}

func (sub *connSubscription) Cancel() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.connSubs, sub)
		sub.store.mu.Unlock()
	})
}

// heartbeatLoop refreshes the session key and doubles as the connection
// probe: a failed refresh means the link to the store is gone.
func (s *RedisEphemeralStore) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	s.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.beat(ctx)
		}
	}
}

func (s *RedisEphemeralStore) beat(ctx context.Context) {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.sessionKey(), "1", s.opts.SessionTTL)
	pipe.SAdd(ctx, s.sessionsKey(), s.sessionID)
	_, err := pipe.Exec(ctx)
	s.setConnected(err == nil)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("ephemeral heartbeat failed")
	}
}

func (s *RedisEphemeralStore) setConnected(connected bool) {
	s.mu.Lock()
	if s.connected == connected {
		s.mu.Unlock()
		return
	}
	s.connected = connected
	subs := make([]*connSubscription, 0, len(s.connSubs))
	for sub := range s.connSubs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.handler(connected)
	}
}

func (s *RedisEphemeralStore) publishValue(ctx context.Context, path, value string, exists bool) {
	payload, err := json.Marshal(valueEvent{Path: path, Value: value, Exists: exists})
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.valueChannel(path), payload).Err(); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to publish ephemeral value change")
	}
}

func (s *RedisEphemeralStore) valueKey(path string) string {
	return s.opts.Prefix + ":value:" + path
}

func (s *RedisEphemeralStore) valueChannel(path string) string {
	return s.opts.Prefix + ":valchan:" + path
}

func (s *RedisEphemeralStore) sessionKey() string {
	return s.opts.Prefix + ":session:" + s.sessionID
}

func (s *RedisEphemeralStore) sessionsKey() string {
	return s.opts.Prefix + ":sessions"
}

func (s *RedisEphemeralStore) deferredKey() string {
	return s.opts.Prefix + ":deferred:" + s.sessionID
}

// PresenceJanitor applies deferred on-disconnect writes for sessions whose
// heartbeat key has lapsed. One janitor per process is enough; sweeps are
// idempotent across processes.
type PresenceJanitor struct {
	client *redis.Client
	opts   EphemeralOptions
	logger zerolog.Logger
}

// NewPresenceJanitor constructs the deferred-write reaper.
func NewPresenceJanitor(client *redis.Client, opts EphemeralOptions, logger zerolog.Logger) *PresenceJanitor {
	return &PresenceJanitor{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "presence_janitor").Logger(),
	}
}

// Start runs periodic sweeps until the context is cancelled. A zero interval
// falls back to the heartbeat interval.
func (j *PresenceJanitor) Start(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = j.opts.HeartbeatInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep applies deferred writes for every dead session it finds.
func (j *PresenceJanitor) Sweep(ctx context.Context) {
	sessions, err := j.client.SMembers(ctx, j.opts.Prefix+":sessions").Result()
	if err != nil {
		j.logger.Warn().Err(err).Msg("presence sweep failed to list sessions")
		return
	}

	for _, sessionID := range sessions {
		alive, err := j.client.Exists(ctx, j.opts.Prefix+":session:"+sessionID).Result()
		if err != nil || alive > 0 {
			continue
		}
		j.reap(ctx, sessionID)
	}
}

func (j *PresenceJanitor) reap(ctx context.Context, sessionID string) {
	deferredKey := j.opts.Prefix + ":deferred:" + sessionID
	writes, err := j.client.HGetAll(ctx, deferredKey).Result()
	if err != nil {
		j.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to read deferred writes")
		return
	}

	for path, value := range writes {
		if err := j.client.Set(ctx, j.opts.Prefix+":value:"+path, value, 0).Err(); err != nil {
			j.logger.Warn().Err(err).Str("path", path).Msg("failed to apply deferred write")
			continue
		}
		payload, err := json.Marshal(valueEvent{Path: path, Value: value, Exists: true})
		if err != nil {
			continue
		}
		if err := j.client.Publish(ctx, j.opts.Prefix+":valchan:"+path, payload).Err(); err != nil {
			j.logger.Warn().Err(err).Str("path", path).Msg("failed to publish deferred write")
		}
	}

	pipe := j.client.Pipeline()
	pipe.Del(ctx, deferredKey)
	pipe.SRem(ctx, j.opts.Prefix+":sessions", sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		j.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to clear reaped session")
	}

	if len(writes) > 0 {
		j.logger.Info().Str("session_id", sessionID).Int("writes", len(writes)).Msg("applied deferred writes for dead session")
	}
}
