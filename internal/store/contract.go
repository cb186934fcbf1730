package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document or value does not exist. Callers
// treat it as a valid empty state rather than a failure.
var ErrNotFound = errors.New("store: not found")

// Document is a single schemaless record inside a collection.
type Document struct {
	ID        string
	Fields    map[string]any
	UpdatedAt time.Time
}

// Snapshot is the full result of evaluating a query at a point in time.
type Snapshot []Document

// Filter restricts a query to documents matching a single field condition.
// Supported operators: "==", ">", "array-contains".
type Filter struct {
	Field string
	Op    string
	Value any
}

// Query describes an ordered, filtered, optionally limited collection read.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Subscription is a handle to an active collection or value watch. Cancel is
// idempotent and safe to call even if the subscription never activated.
type Subscription interface {
	Cancel()
}

// SnapshotHandler receives query snapshots. A nil error carries a valid
// snapshot; a non-nil error reports a failed re-evaluation and leaves the
// subscriber at its last-known-good state.
type SnapshotHandler func(snapshot Snapshot, err error)

// ValueHandler receives ephemeral value updates. exists is false when the
// value has been deleted.
type ValueHandler func(value string, exists bool)

// DocumentStore is the strongly consistent multi-document store holding
// rooms, messages, user profiles and read cursors.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error

	// AddToSet and RemoveFromSet atomically mutate a single string-set field
	// (dotted paths address nested keys, e.g. "reactions.👍") without
	// rewriting the rest of the document.
	AddToSet(ctx context.Context, collection, id, field, value string) error
	RemoveFromSet(ctx context.Context, collection, id, field, value string) error

	Query(ctx context.Context, collection string, query Query) (Snapshot, error)
	Subscribe(ctx context.Context, collection string, query Query, handler SnapshotHandler) (Subscription, error)
}

// EphemeralStore is the low-latency key/value store used for transient
// presence state. Deferred writes registered through OnDisconnectSetValue
// fire when the owning session drops without a clean shutdown.
type EphemeralStore interface {
	SetValue(ctx context.Context, path, value string) error
	DeleteValue(ctx context.Context, path string) error
	SubscribeValue(ctx context.Context, path string, handler ValueHandler) (Subscription, error)

	OnDisconnectSetValue(ctx context.Context, path, value string) error
	OnDisconnectCancel(ctx context.Context, path string) error

	// Connected reports transitions of this session's own link to the store:
	// true once the session is established or re-established, false when it
	// lapses.
	Connected(ctx context.Context, handler func(connected bool)) (Subscription, error)
}

// CancelFunc adapts a plain function into a Subscription.
type CancelFunc func()

// Cancel invokes the wrapped function once per call.
func (f CancelFunc) Cancel() {
	if f != nil {
		f()
	}
}
