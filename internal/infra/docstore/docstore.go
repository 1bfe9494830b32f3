// Package docstore implements optimistic read-modify-write transactions on
// top of any backend that can read versioned documents and commit a batch of
// writes guarded by version preconditions.
//
// Every backend (memory, SQLite, remote HTTP) shares this runner, so the
// transaction semantics seen by the sync engine are identical everywhere.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/observability"
)

// DefaultMaxAttempts bounds how often a conflicting transaction is re-run.
const DefaultMaxAttempts = 5

// ─── Wire Types ─────────────────────────────────────────────────────────────

// Doc is a document with its version. Version 0 means the document is absent.
type Doc struct {
	Fields  domain.Fields `json:"fields"`
	Version int64         `json:"version"`
}

// Exists reports whether the document was found.
func (d Doc) Exists() bool { return d.Version > 0 }

// Precondition requires a document to still be at Version when committing.
type Precondition struct {
	Collection string `json:"collection" validate:"required"`
	ID         string `json:"id" validate:"required"`
	Version    int64  `json:"version" validate:"gte=0"`
}

// Write replaces a document, or merges into it when Merge is set.
type Write struct {
	Collection string        `json:"collection" validate:"required"`
	ID         string        `json:"id" validate:"required"`
	Fields     domain.Fields `json:"fields" validate:"required"`
	Merge      bool          `json:"merge"`
}

// CommitRequest is applied atomically or not at all.
type CommitRequest struct {
	Preconditions []Precondition `json:"preconditions" validate:"omitempty,dive"`
	Writes        []Write        `json:"writes" validate:"required,min=1,dive"`
}

// MergeRequest is a single unconditional merge write.
type MergeRequest struct {
	Collection string        `json:"collection" validate:"required"`
	ID         string        `json:"id" validate:"required"`
	Fields     domain.Fields `json:"fields" validate:"required"`
}

var validate = validator.New()

// Validate checks the request shape. Violations wrap ErrInvalidDocument.
func (r CommitRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	return nil
}

// Versioned is the contract a backend implements to get transactions.
type Versioned interface {
	// GetVersioned returns the document, or a zero Doc when it is absent.
	GetVersioned(ctx context.Context, collection, id string) (Doc, error)

	// Commit applies req atomically. A failed precondition returns ErrConflict.
	Commit(ctx context.Context, req CommitRequest) error
}

// ─── Write Application ──────────────────────────────────────────────────────

// Apply returns the stored form of w on top of existing. Field values equal
// to domain.ServerTimestamp are replaced with now.
func Apply(existing domain.Fields, w Write, now time.Time) domain.Fields {
	var out domain.Fields
	if w.Merge && existing != nil {
		out = existing.Clone()
	} else {
		out = make(domain.Fields, len(w.Fields))
	}
	stamp := now.UTC().Format(time.RFC3339Nano)
	for k, v := range w.Fields {
		if s, ok := v.(string); ok && s == domain.ServerTimestamp {
			v = stamp
		}
		out[k] = v
	}
	return out
}

// CheckPreconditions compares each precondition with the current version
// reported by current.
func CheckPreconditions(pre []Precondition, current func(collection, id string) (int64, error)) error {
	for _, p := range pre {
		v, err := current(p.Collection, p.ID)
		if err != nil {
			return err
		}
		if v != p.Version {
			return fmt.Errorf("%w: %s/%s is at version %d, read at %d",
				domain.ErrConflict, p.Collection, p.ID, v, p.Version)
		}
	}
	return nil
}

// ─── Store Adapter ──────────────────────────────────────────────────────────

// Get reads a document through a versioned backend, mapping absence to
// ErrNotFound.
func Get(ctx context.Context, v Versioned, collection, id string) (domain.Fields, error) {
	doc, err := v.GetVersioned(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if !doc.Exists() {
		return nil, domain.ErrNotFound
	}
	return doc.Fields, nil
}

// SetMerge is a single unconditional merge write.
func SetMerge(ctx context.Context, v Versioned, collection, id string, fields domain.Fields) error {
	return v.Commit(ctx, CommitRequest{
		Writes: []Write{{Collection: collection, ID: id, Fields: fields.Clone(), Merge: true}},
	})
}

// RunTransaction runs fn against a buffered transaction and commits its
// writes guarded by the versions it read. On ErrConflict fn is re-run, up to
// maxAttempts in total.
func RunTransaction(ctx context.Context, v Versioned, maxAttempts int, fn func(ctx context.Context, tx domain.Txn) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := newTxn(v)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if len(tx.writes) == 0 {
			return nil
		}

		err := v.Commit(ctx, tx.request())
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		observability.StoreConflicts.Inc()
		lastErr = err
	}
	return fmt.Errorf("transaction abandoned after %d attempts: %w", maxAttempts, lastErr)
}

// ─── Transaction ────────────────────────────────────────────────────────────

type docKey struct{ collection, id string }

type txn struct {
	backend Versioned
	reads   map[docKey]Doc
	order   []docKey
	writes  []Write
}

func newTxn(v Versioned) *txn {
	return &txn{backend: v, reads: make(map[docKey]Doc)}
}

func (t *txn) Get(ctx context.Context, collection, id string) (domain.Fields, error) {
	if len(t.writes) > 0 {
		return nil, fmt.Errorf("%w: read of %s/%s after a write", domain.ErrInvalidTransaction, collection, id)
	}
	k := docKey{collection, id}
	doc, seen := t.reads[k]
	if !seen {
		var err error
		doc, err = t.backend.GetVersioned(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		t.reads[k] = doc
		t.order = append(t.order, k)
	}
	if !doc.Exists() {
		return nil, domain.ErrNotFound
	}
	return doc.Fields.Clone(), nil
}

func (t *txn) Set(collection, id string, fields domain.Fields) error {
	return t.add(collection, id, fields, false)
}

func (t *txn) SetMerge(collection, id string, fields domain.Fields) error {
	return t.add(collection, id, fields, true)
}

func (t *txn) add(collection, id string, fields domain.Fields, merge bool) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: write needs a collection and id", domain.ErrInvalidTransaction)
	}
	if fields == nil {
		fields = domain.Fields{}
	}
	t.writes = append(t.writes, Write{Collection: collection, ID: id, Fields: fields.Clone(), Merge: merge})
	return nil
}

func (t *txn) request() CommitRequest {
	req := CommitRequest{Writes: t.writes}
	for _, k := range t.order {
		req.Preconditions = append(req.Preconditions, Precondition{
			Collection: k.collection,
			ID:         k.id,
			Version:    t.reads[k].Version,
		})
	}
	return req
}
