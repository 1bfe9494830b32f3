package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	db.SetClock(func() time.Time { return time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC) })
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Schema ─────────────────────────────────────────────────────────────────

func TestOpen_MigratesSchema(t *testing.T) {
	db := newTestDB(t)

	var version int
	if err := db.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion() {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion())
	}

	for _, table := range []string{"documents", "ledger_entries"} {
		var count int
		err := db.db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found in database", table)
		}
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetMerge(context.Background(), "users", "u1", domain.Fields{"totalCredits": 5}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := OpenFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db2.Close()

	f, err := db2.Get(context.Background(), "users", "u1")
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if f["totalCredits"] != json.Number("5") {
		t.Errorf("totalCredits = %v, want 5", f["totalCredits"])
	}
}

// ─── Documents ──────────────────────────────────────────────────────────────

func TestDocuments_GetMissing(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Get(context.Background(), "users", "nobody")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDocuments_SetMergeAndVersion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	days := domain.DaysCollection("u1")

	day := domain.NewPrayerDay("2025-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)).
		With(domain.Fajr, domain.StatusOnTime)
	if err := db.SetMerge(ctx, days, day.DayID, domain.PrayerDayFields(day)); err != nil {
		t.Fatalf("SetMerge() error: %v", err)
	}
	if err := db.SetMerge(ctx, days, day.DayID, domain.Fields{"asr": "late"}); err != nil {
		t.Fatalf("SetMerge() error: %v", err)
	}

	doc, err := db.GetVersioned(ctx, days, day.DayID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != 2 {
		t.Errorf("Version = %d, want 2", doc.Version)
	}
	got, err := domain.PrayerDayFromFields(day.DayID, doc.Fields)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got.Status(domain.Fajr) != domain.StatusOnTime || got.Status(domain.Asr) != domain.StatusLate {
		t.Errorf("statuses = %v", got.Statuses)
	}
	if doc.Fields[domain.FieldLastUpdatedAt] != "2025-03-01T06:00:00Z" {
		t.Errorf("lastUpdatedAt = %v, want server time", doc.Fields[domain.FieldLastUpdatedAt])
	}
}

func TestDocuments_CommitConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.SetMerge(ctx, "users", "u1", domain.Fields{"totalCredits": 1})

	err := db.Commit(ctx, docstore.CommitRequest{
		Preconditions: []docstore.Precondition{{Collection: "users", ID: "u1", Version: 7}},
		Writes:        []docstore.Write{{Collection: "users", ID: "u1", Fields: domain.Fields{"totalCredits": 2}, Merge: true}},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Commit() error = %v, want ErrConflict", err)
	}

	f, _ := db.Get(ctx, "users", "u1")
	if f["totalCredits"] != json.Number("1") {
		t.Errorf("totalCredits = %v, want unchanged 1", f["totalCredits"])
	}
}

func TestDocuments_CommitRejectsNegativeLedger(t *testing.T) {
	db := newTestDB(t)
	err := db.SetMerge(context.Background(), "users", "u1", domain.Fields{"totalCredits": -3})
	if !errors.Is(err, domain.ErrInvalidDocument) {
		t.Errorf("SetMerge(negative) error = %v, want ErrInvalidDocument", err)
	}
}

func TestDocuments_RunTransaction(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	add := func(delta int64) error {
		return db.RunTransaction(ctx, func(ctx context.Context, tx domain.Txn) error {
			l := domain.NewUserLedger("u1", time.Time{})
			f, err := tx.Get(ctx, domain.UsersCollection, "u1")
			switch {
			case err == nil:
				if l, err = domain.LedgerFromFields("u1", f); err != nil {
					return err
				}
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
			return tx.SetMerge(domain.UsersCollection, "u1", domain.Fields{
				domain.FieldTotalCredits: domain.ClampTotal(l.TotalCredits, delta),
			})
		})
	}

	for _, d := range []int64{10, 5, -40} {
		if err := add(d); err != nil {
			t.Fatalf("add(%d) error: %v", d, err)
		}
	}
	f, _ := db.Get(ctx, domain.UsersCollection, "u1")
	l, err := domain.LedgerFromFields("u1", f)
	if err != nil {
		t.Fatal(err)
	}
	if l.TotalCredits != 0 {
		t.Errorf("TotalCredits = %d, want 0", l.TotalCredits)
	}
}

func TestDocuments_ListIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"u2", "u1"} {
		db.SetMerge(ctx, domain.UsersCollection, id, domain.Fields{})
	}
	db.SetMerge(ctx, domain.DaysCollection("u1"), "2025-03-01", domain.Fields{})

	ids, err := db.ListIDs(ctx, domain.UsersCollection)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("ListIDs() = %v, want [u1 u2]", ids)
	}
}

// ─── Ledger Audit ───────────────────────────────────────────────────────────

func TestLedgerEntries_RecordsChanges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	users := domain.UsersCollection

	db.SetMerge(ctx, users, "u1", domain.Fields{"totalCredits": 50, "lastMutationId": "m1"})
	db.SetMerge(ctx, users, "u1", domain.Fields{"totalCredits": 44, "lastMutationId": "m2"})
	db.SetMerge(ctx, users, "u1", domain.Fields{"currentStreak": 3}) // total unchanged

	entries, err := db.LedgerEntries(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("LedgerEntries() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	newest := entries[0]
	if newest.Type != domain.TxDeduct || newest.EntryType != domain.EntryDebit {
		t.Errorf("newest = %s/%s, want DEDUCT/DEBIT", newest.Type, newest.EntryType)
	}
	if newest.Amount != 6 || newest.Balance != 44 || newest.MutationID != "m2" {
		t.Errorf("newest = %+v", newest)
	}
	if entries[1].Type != domain.TxEarn || entries[1].Amount != 50 {
		t.Errorf("oldest = %+v, want EARN 50", entries[1])
	}
	if newest.Timestamp.IsZero() {
		t.Error("Timestamp not decoded")
	}
}
