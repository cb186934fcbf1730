package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/chatsync-api/internal/repository"
)

// PublishingDocumentStore couples the document contract with the change-feed
// consumer lifecycle.
type PublishingDocumentStore interface {
	DocumentStore
	Start(ctx context.Context)
}

type changeEvent struct {
	Source     string    `json:"source"`
	Collection string    `json:"collection"`
	SentAt     time.Time `json:"sent_at"`
}

type documentStore struct {
	repo        repository.DocumentRepository
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	nodeID      string

	mu   sync.RWMutex
	subs map[string]map[*docSubscription]struct{}
}

type docSubscription struct {
	store      *documentStore
	ctx        context.Context
	collection string
	query      Query
	handler    SnapshotHandler
	trigger    chan struct{}
	done       chan struct{}
	once       sync.Once
}

// NewDocumentStore builds the GORM-backed document store. Collection change
// events fan out over Redis pub/sub and NATS so subscribers on every node
// re-evaluate their queries; local writes notify local subscribers directly.
func NewDocumentStore(repo repository.DocumentRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) PublishingDocumentStore {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":documents"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".documents"
	}

	return &documentStore{
		repo:        repo,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "document_store").Logger(),
		nodeID:      uuid.NewString(),
		subs:        make(map[string]map[*docSubscription]struct{}),
	}
}

func (s *documentStore) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *documentStore) Get(ctx context.Context, collection, id string) (Document, error) {
	row, err := s.repo.Get(ctx, collection, id)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return documentFromRow(row), nil
}

func (s *documentStore) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	if err := s.repo.Set(ctx, collection, id, fields, merge); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *documentStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	err := s.repo.Update(ctx, collection, id, fields)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *documentStore) Delete(ctx context.Context, collection, id string) error {
	if err := s.repo.Delete(ctx, collection, id); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *documentStore) AddToSet(ctx context.Context, collection, id, field, value string) error {
	err := s.repo.AddToSet(ctx, collection, id, field, value)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *documentStore) RemoveFromSet(ctx context.Context, collection, id, field, value string) error {
	err := s.repo.RemoveFromSet(ctx, collection, id, field, value)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

func (s *documentStore) Query(ctx context.Context, collection string, query Query) (Snapshot, error) {
	rows, err := s.repo.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	snapshot := make(Snapshot, 0, len(rows))
	for _, row := range rows {
		doc := documentFromRow(row)
		if matchesFilters(doc, query.Filters) {
			snapshot = append(snapshot, doc)
		}
	}

	if query.OrderBy != "" {
		field := query.OrderBy
		desc := query.Descending
		sort.SliceStable(snapshot, func(i, j int) bool {
			cmp := compareValues(snapshot[i].Fields[field], snapshot[j].Fields[field])
			if desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if query.Limit > 0 && len(snapshot) > query.Limit {
		snapshot = snapshot[:query.Limit]
	}

	return snapshot, nil
}

func (s *documentStore) Subscribe(ctx context.Context, collection string, query Query, handler SnapshotHandler) (Subscription, error) {
	sub := &docSubscription{
		store:      s,
		ctx:        ctx,
		collection: collection,
		query:      query,
		handler:    handler,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if _, ok := s.subs[collection]; !ok {
		s.subs[collection] = make(map[*docSubscription]struct{})
	}
	s.subs[collection][sub] = struct{}{}
	s.mu.Unlock()

	go sub.run()
	sub.wake()

	return sub, nil
}

func (sub *docSubscription) run() {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.ctx.Done():
			sub.Cancel()
			return
		case <-sub.trigger:
			snapshot, err := sub.store.Query(sub.ctx, sub.collection, sub.query)
			select {
			case <-sub.done:
				return
			default:
			}
			sub.handler(snapshot, err)
		}
	}
}

// wake coalesces pending re-evaluations into a single trigger.
func (sub *docSubscription) wake() {
	select {
	case sub.trigger <- struct{}{}:
	default:
	}
}

// Cancel detaches the subscription. Safe to call more than once and before
// the first snapshot was delivered.
func (sub *docSubscription) Cancel() {
	sub.once.Do(func() {
		close(sub.done)
		sub.store.mu.Lock()
		if subs, ok := sub.store.subs[sub.collection]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(sub.store.subs, sub.collection)
			}
		}
		sub.store.mu.Unlock()
	})
}

func (s *documentStore) changed(ctx context.Context, collection string) {
	s.notify(collection)
	s.publish(ctx, collection)
}

func (s *documentStore) notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[collection] {
		sub.wake()
	}
}

func (s *documentStore) publish(ctx context.Context, collection string) {
	event := changeEvent{Source: s.nodeID, Collection: collection, SentAt: time.Now().UTC()}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal document change event")
		return
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("failed to publish document change to redis")
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			s.logger.Warn().Err(err).Str("collection", collection).Msg("failed to publish document change to nats")
		}
	}
}

func (s *documentStore) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("document change subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *documentStore) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "chatsync-documents", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats document subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain document nats subscription")
		}
	}()
}

func (s *documentStore) handleEvent(data []byte) {
	var event changeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid document change event")
		return
	}
	if event.Source == s.nodeID {
		return
	}
	s.notify(event.Collection)
}

func documentFromRow(row repository.DocumentRow) Document {
	return Document{
		ID:        row.DocID,
		Fields:    map[string]any(row.Fields),
		UpdatedAt: row.UpdatedAt,
	}
}

func matchesFilters(doc Document, filters []Filter) bool {
	for _, filter := range filters {
		value := doc.Fields[filter.Field]
		switch filter.Op {
		case "==":
			if compareValues(value, filter.Value) != 0 {
				return false
			}
		case ">":
			if compareValues(value, filter.Value) <= 0 {
				return false
			}
		case "array-contains":
			if !sliceContains(value, filter.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sliceContains(value any, target any) bool {
	targetStr, ok := target.(string)
	if !ok {
		return false
	}
	switch v := value.(type) {
	case []string:
		for _, item := range v {
			if item == targetStr {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == targetStr {
				return true
			}
		}
	}
	return false
}

// compareValues orders two field values, normalising JSON renderings:
// RFC3339 strings compare as timestamps, numbers as floats, everything else
// as strings. Missing values sort first.
func compareValues(a, b any) int {
	at, aok := asTime(a)
	bt, bok := asTime(b)
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}

	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as, bs := asString(a), asString(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func asTime(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func asString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	if value == nil {
		return ""
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(data)
}
