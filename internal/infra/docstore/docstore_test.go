package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salah-ledger/salah/internal/domain"
)

// fakeBackend serves fixed documents and fails the first n commits with a conflict.
type fakeBackend struct {
	docs      map[string]Doc
	conflicts int
	commits   []CommitRequest
	reads     int
}

func (f *fakeBackend) GetVersioned(_ context.Context, collection, id string) (Doc, error) {
	f.reads++
	return f.docs[collection+"/"+id], nil
}

func (f *fakeBackend) Commit(_ context.Context, req CommitRequest) error {
	f.commits = append(f.commits, req)
	if f.conflicts > 0 {
		f.conflicts--
		return domain.ErrConflict
	}
	return nil
}

func TestApply_MergeAndServerTime(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	existing := domain.Fields{"a": 1, "b": 2}

	merged := Apply(existing, Write{Fields: domain.Fields{"b": 3, "ts": domain.ServerTimestamp}, Merge: true}, now)
	assert.Equal(t, domain.Fields{"a": 1, "b": 3, "ts": "2025-03-01T12:00:00Z"}, merged)
	assert.Equal(t, 2, existing["b"], "existing must not be mutated")

	replaced := Apply(existing, Write{Fields: domain.Fields{"c": true}}, now)
	assert.Equal(t, domain.Fields{"c": true}, replaced)
}

func TestCommitRequest_Validate(t *testing.T) {
	ok := CommitRequest{Writes: []Write{{Collection: "users", ID: "u1", Fields: domain.Fields{}}}}
	require.NoError(t, ok.Validate())

	tests := map[string]CommitRequest{
		"no writes":          {},
		"write missing id":   {Writes: []Write{{Collection: "users", Fields: domain.Fields{}}}},
		"write nil fields":   {Writes: []Write{{Collection: "users", ID: "u1"}}},
		"precondition no id": {Preconditions: []Precondition{{Collection: "users"}}, Writes: ok.Writes},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, req.Validate(), domain.ErrInvalidDocument)
		})
	}
}

func TestCheckPreconditions(t *testing.T) {
	versions := map[string]int64{"users/u1": 3}
	current := func(c, id string) (int64, error) { return versions[c+"/"+id], nil }

	require.NoError(t, CheckPreconditions([]Precondition{{"users", "u1", 3}, {"users", "u2", 0}}, current))
	assert.ErrorIs(t, CheckPreconditions([]Precondition{{"users", "u1", 2}}, current), domain.ErrConflict)
}

func TestRunTransaction_RecordsReadVersions(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{
		"users/u1": {Fields: domain.Fields{"totalCredits": 10}, Version: 4},
	}}
	err := RunTransaction(context.Background(), b, 0, func(ctx context.Context, tx domain.Txn) error {
		f, err := tx.Get(ctx, "users", "u1")
		if err != nil {
			return err
		}
		// A second read is served from the transaction snapshot.
		if _, err := tx.Get(ctx, "users", "u1"); err != nil {
			return err
		}
		if _, err := tx.Get(ctx, "users", "u2"); !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return tx.SetMerge("users", "u1", domain.Fields{"totalCredits": f["totalCredits"].(int) + 5})
	})
	require.NoError(t, err)
	require.Len(t, b.commits, 1)
	assert.Equal(t, 2, b.reads)
	assert.Equal(t, []Precondition{{"users", "u1", 4}, {"users", "u2", 0}}, b.commits[0].Preconditions)
	assert.Equal(t, 15, b.commits[0].Writes[0].Fields["totalCredits"])
}

func TestRunTransaction_ReadAfterWrite(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{}}
	err := RunTransaction(context.Background(), b, 0, func(ctx context.Context, tx domain.Txn) error {
		if err := tx.Set("users", "u1", domain.Fields{}); err != nil {
			return err
		}
		_, err := tx.Get(ctx, "users", "u1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransaction)
	assert.Empty(t, b.commits)
}

func TestRunTransaction_RetriesConflicts(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{}, conflicts: 2}
	runs := 0
	err := RunTransaction(context.Background(), b, 5, func(ctx context.Context, tx domain.Txn) error {
		runs++
		return tx.Set("users", "u1", domain.Fields{"n": runs})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runs)
}

func TestRunTransaction_GivesUp(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{}, conflicts: 100}
	err := RunTransaction(context.Background(), b, 3, func(ctx context.Context, tx domain.Txn) error {
		return tx.Set("users", "u1", domain.Fields{})
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, b.commits, 3)
}

func TestRunTransaction_NoWritesNoCommit(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{}}
	err := RunTransaction(context.Background(), b, 0, func(ctx context.Context, tx domain.Txn) error {
		_, _ = tx.Get(ctx, "users", "u1")
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, b.commits)
}

func TestRunTransaction_FnErrorAborts(t *testing.T) {
	b := &fakeBackend{docs: map[string]Doc{}}
	boom := errors.New("boom")
	err := RunTransaction(context.Background(), b, 0, func(ctx context.Context, tx domain.Txn) error {
		_ = tx.Set("users", "u1", domain.Fields{})
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, b.commits)
}
