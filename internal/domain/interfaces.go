package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the sync engine depends on them.

// Fields is the field map of a single keyed document.
type Fields map[string]any

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DocumentStore abstracts the remote source of truth for ledger, day and log
// documents. Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Fields, error)

	// SetMerge writes fields into the document, creating it if absent.
	SetMerge(ctx context.Context, collection, id string, fields Fields) error

	// RunTransaction runs fn atomically. fn may be invoked more than once
	// when the backend detects contention, so it must not leak side effects.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error
}

// Txn is the read-modify-write view handed to a transaction function.
// All reads must happen before the first write.
type Txn interface {
	Get(ctx context.Context, collection, id string) (Fields, error)
	Set(collection, id string, fields Fields) error
	SetMerge(collection, id string, fields Fields) error
}

// DocumentLister enumerates document ids in a collection.
type DocumentLister interface {
	ListIDs(ctx context.Context, collection string) ([]string, error)
}

// Session supplies the signed-in user and a "user changed" signal.
type Session interface {
	// CurrentUserID returns "" when nobody is signed in.
	CurrentUserID() string

	// Subscribe registers fn for user changes. The returned func unsubscribes.
	Subscribe(fn func(userID string)) (cancel func())
}
