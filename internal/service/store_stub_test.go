package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/chatsync-api/internal/store"
)

// stubDocumentStore is a synchronous in-memory DocumentStore. Subscription
// handlers fire inline on every mutation, which keeps tests deterministic.
type stubDocumentStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        []*stubSubscription
	queryErr    map[string]error
}

type stubSubscription struct {
	owner      *stubDocumentStore
	collection string
	query      store.Query
	handler    store.SnapshotHandler
	cancelled  bool
}

func newStubDocumentStore() *stubDocumentStore {
	return &stubDocumentStore{
		collections: make(map[string]map[string]map[string]any),
		queryErr:    make(map[string]error),
	}
}

func (s *stubDocumentStore) failQueries(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.queryErr, collection)
		return
	}
	s.queryErr[collection] = err
}

func (s *stubDocumentStore) Get(_ context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{ID: id, Fields: cloneFields(fields)}, nil
}

func (s *stubDocumentStore) Set(_ context.Context, collection, id string, fields map[string]any, merge bool) error {
	s.mu.Lock()
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	if !merge {
		docs[id] = make(map[string]any)
	} else if docs[id] == nil {
		docs[id] = make(map[string]any)
	}
	for key, value := range fields {
		stubSetPath(docs[id], key, value)
	}
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *stubDocumentStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	if _, ok := s.collections[collection][id]; !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	s.mu.Unlock()
	return s.Set(ctx, collection, id, fields, true)
}

func (s *stubDocumentStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *stubDocumentStore) AddToSet(_ context.Context, collection, id, field, value string) error {
	return s.mutateSet(collection, id, field, value, true)
}

func (s *stubDocumentStore) RemoveFromSet(_ context.Context, collection, id, field, value string) error {
	return s.mutateSet(collection, id, field, value, false)
}

func (s *stubDocumentStore) mutateSet(collection, id, field, value string, add bool) error {
	s.mu.Lock()
	fields, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}

	current := stubStringSlice(stubGetPath(fields, field))
	next := make([]any, 0, len(current)+1)
	present := false
	for _, member := range current {
		if member == value {
			present = true
			if !add {
				continue
			}
		}
		next = append(next, member)
	}
	if add && !present {
		next = append(next, value)
	}
	stubSetPath(fields, field, next)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *stubDocumentStore) Query(_ context.Context, collection string, query store.Query) (store.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluateLocked(collection, query)
}

func (s *stubDocumentStore) Subscribe(_ context.Context, collection string, query store.Query, handler store.SnapshotHandler) (store.Subscription, error) {
	s.mu.Lock()
	sub := &stubSubscription{owner: s, collection: collection, query: query, handler: handler}
	s.subs = append(s.subs, sub)
	snapshot, err := s.evaluateLocked(collection, query)
	s.mu.Unlock()

	handler(snapshot, err)
	return sub, nil
}

func (sub *stubSubscription) Cancel() {
	sub.owner.mu.Lock()
	sub.cancelled = true
	sub.owner.mu.Unlock()
}

func (s *stubDocumentStore) notify(collection string) {
	s.mu.Lock()
	type delivery struct {
		handler  store.SnapshotHandler
		snapshot store.Snapshot
		err      error
	}
	var deliveries []delivery
	for _, sub := range s.subs {
		if sub.cancelled || sub.collection != collection {
			continue
		}
		snapshot, err := s.evaluateLocked(collection, sub.query)
		deliveries = append(deliveries, delivery{handler: sub.handler, snapshot: snapshot, err: err})
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		d.handler(d.snapshot, d.err)
	}
}

func (s *stubDocumentStore) evaluateLocked(collection string, query store.Query) (store.Snapshot, error) {
	if err := s.queryErr[collection]; err != nil {
		return nil, err
	}

	snapshot := make(store.Snapshot, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		if !stubMatches(fields, query.Filters) {
			continue
		}
		snapshot = append(snapshot, store.Document{ID: id, Fields: cloneFields(fields)})
	}

	if query.OrderBy != "" {
		sort.SliceStable(snapshot, func(i, j int) bool {
			less := stubCompare(stubGetPath(snapshot[i].Fields, query.OrderBy), stubGetPath(snapshot[j].Fields, query.OrderBy)) < 0
			if query.Descending {
				return !less
			}
			return less
		})
	} else {
		sort.SliceStable(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	}

	if query.Limit > 0 && len(snapshot) > query.Limit {
		snapshot = snapshot[:query.Limit]
	}
	return snapshot, nil
}

func stubMatches(fields map[string]any, filters []store.Filter) bool {
	for _, filter := range filters {
		value := stubGetPath(fields, filter.Field)
		switch filter.Op {
		case "==":
			if stubCompare(value, filter.Value) != 0 {
				return false
			}
		case ">":
			if value == nil || stubCompare(value, filter.Value) <= 0 {
				return false
			}
		case "array-contains":
			found := false
			for _, member := range stubStringSlice(value) {
				if member == filter.Value {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func stubCompare(a, b any) int {
	at, aok := stubTime(a)
	bt, bok := stubTime(b)
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
	as, bs := stubString(a), stubString(b)
	return strings.Compare(as, bs)
}

func stubTime(value any) (time.Time, bool) {
	if raw, ok := value.(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return parsed, true
		}
	}
	if t, ok := value.(time.Time); ok {
		return t, true
	}
	return time.Time{}, false
}

func stubString(value any) string {
	if raw, ok := value.(string); ok {
		return raw
	}
	return ""
}

func stubStringSlice(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, member := range typed {
			if raw, ok := member.(string); ok {
				out = append(out, raw)
			}
		}
		return out
	default:
		return nil
	}
}

func stubGetPath(fields map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = fields
	for _, part := range parts {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = asMap[part]
	}
	return current
}

func stubSetPath(fields map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := fields
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if nested, ok := value.(map[string]any); ok {
			out[key] = cloneFields(nested)
			continue
		}
		out[key] = value
	}
	return out
}

// stubEphemeralStore records ephemeral operations for presence tests.
type stubEphemeralStore struct {
	mu            sync.Mutex
	values        map[string]string
	deferredSet   map[string]string
	connHandlers  []func(bool)
	valueHandlers map[string][]store.ValueHandler
}

func newStubEphemeralStore() *stubEphemeralStore {
	return &stubEphemeralStore{
		values:        make(map[string]string),
		deferredSet:   make(map[string]string),
		valueHandlers: make(map[string][]store.ValueHandler),
	}
}

func (s *stubEphemeralStore) SetValue(_ context.Context, path, value string) error {
	s.mu.Lock()
	s.values[path] = value
	handlers := append([]store.ValueHandler(nil), s.valueHandlers[path]...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(value, true)
	}
	return nil
}

func (s *stubEphemeralStore) DeleteValue(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.values, path)
	handlers := append([]store.ValueHandler(nil), s.valueHandlers[path]...)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler("", false)
	}
	return nil
}

func (s *stubEphemeralStore) SubscribeValue(_ context.Context, path string, handler store.ValueHandler) (store.Subscription, error) {
	s.mu.Lock()
	s.valueHandlers[path] = append(s.valueHandlers[path], handler)
	value, ok := s.values[path]
	s.mu.Unlock()

	handler(value, ok)
	return store.CancelFunc(func() {}), nil
}

func (s *stubEphemeralStore) OnDisconnectSetValue(_ context.Context, path, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferredSet[path] = value
	return nil
}

func (s *stubEphemeralStore) OnDisconnectCancel(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deferredSet, path)
	return nil
}

func (s *stubEphemeralStore) Connected(_ context.Context, handler func(connected bool)) (store.Subscription, error) {
	s.mu.Lock()
	s.connHandlers = append(s.connHandlers, handler)
	s.mu.Unlock()
	return store.CancelFunc(func() {}), nil
}

func (s *stubEphemeralStore) connect() {
	s.mu.Lock()
	handlers := append([]func(bool){}, s.connHandlers...)
	s.mu.Unlock()
	for _, handler := range handlers {
		handler(true)
	}
}
