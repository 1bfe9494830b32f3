// Package memstore is an in-process versioned document store. It backs the
// engine's tests and the offline demo, and supports fault injection.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// Op names passed to a FaultFunc.
const (
	OpGet    = "get"
	OpCommit = "commit"
	OpList   = "list"
)

// FaultFunc is consulted before every operation. A non-nil error fails
// the operation before it touches any data. It may block.
type FaultFunc func(ctx context.Context, op string, req docstore.CommitRequest) error

type entry struct {
	fields  domain.Fields
	version int64
}

// Store implements domain.DocumentStore, domain.DocumentLister and
// docstore.Versioned.
type Store struct {
	mu    sync.Mutex
	docs  map[string]entry
	fault FaultFunc
	now   func() time.Time

	// MaxAttempts bounds transaction re-runs on conflict.
	MaxAttempts int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:        make(map[string]entry),
		now:         time.Now,
		MaxAttempts: docstore.DefaultMaxAttempts,
	}
}

// SetFault installs or clears (nil) the fault hook.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// SetClock replaces the server-time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func key(collection, id string) string { return collection + "\x00" + id }

func (s *Store) checkFault(ctx context.Context, op string, req docstore.CommitRequest) error {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(ctx, op, req)
}

// ─── docstore.Versioned ─────────────────────────────────────────────────────

// GetVersioned returns a copy of the document and its version.
func (s *Store) GetVersioned(ctx context.Context, collection, id string) (docstore.Doc, error) {
	if err := s.checkFault(ctx, OpGet, docstore.CommitRequest{}); err != nil {
		return docstore.Doc{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[key(collection, id)]
	if !ok {
		return docstore.Doc{}, nil
	}
	return docstore.Doc{Fields: e.fields.Clone(), Version: e.version}, nil
}

// Commit applies req atomically under the store lock.
func (s *Store) Commit(ctx context.Context, req docstore.CommitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.checkFault(ctx, OpCommit, req); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := docstore.CheckPreconditions(req.Preconditions, func(c, id string) (int64, error) {
		return s.docs[key(c, id)].version, nil
	})
	if err != nil {
		return err
	}

	now := s.now()
	for _, w := range req.Writes {
		k := key(w.Collection, w.ID)
		e := s.docs[k]
		s.docs[k] = entry{
			fields:  docstore.Apply(e.fields, w, now),
			version: e.version + 1,
		}
	}
	return nil
}

// ─── domain.DocumentStore ───────────────────────────────────────────────────

// Get returns a copy of the document or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (domain.Fields, error) {
	return docstore.Get(ctx, s, collection, id)
}

// SetMerge merges fields into the document.
func (s *Store) SetMerge(ctx context.Context, collection, id string, fields domain.Fields) error {
	return docstore.SetMerge(ctx, s, collection, id, fields)
}

// RunTransaction runs fn with optimistic concurrency control.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Txn) error) error {
	return docstore.RunTransaction(ctx, s, s.MaxAttempts, fn)
}

// ListIDs returns the sorted ids of a collection's direct documents.
func (s *Store) ListIDs(ctx context.Context, collection string) ([]string, error) {
	if err := s.checkFault(ctx, OpList, docstore.CommitRequest{}); err != nil {
		return nil, err
	}
	prefix := collection + "\x00"

	s.mu.Lock()
	var ids []string
	for k := range s.docs {
		if strings.HasPrefix(k, prefix) {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids, nil
}

// Version returns the current version of a document, 0 if absent.
func (s *Store) Version(collection, id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[key(collection, id)].version
}
