package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ─── docstore.Versioned ─────────────────────────────────────────────────────

// GetVersioned returns the document and its version, or a zero Doc.
func (db *DB) GetVersioned(ctx context.Context, collection, id string) (docstore.Doc, error) {
	return getDoc(ctx, db.db, collection, id)
}

// Commit applies req in one SQL transaction. Ledger documents whose
// totalCredits changes get an audit row in ledger_entries.
func (db *DB) Commit(ctx context.Context, req docstore.CommitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	err = docstore.CheckPreconditions(req.Preconditions, func(c, id string) (int64, error) {
		doc, err := getDoc(ctx, tx, c, id)
		return doc.Version, err
	})
	if err != nil {
		return err
	}

	now := db.now().UTC()
	for _, w := range req.Writes {
		existing, err := getDoc(ctx, tx, w.Collection, w.ID)
		if err != nil {
			return err
		}
		next := docstore.Apply(existing.Fields, w, now)

		if w.Collection == domain.UsersCollection {
			if err := recordLedgerChange(ctx, tx, w.ID, existing.Fields, next, now); err != nil {
				return err
			}
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("%w: encode %s/%s: %v", domain.ErrInvalidDocument, w.Collection, w.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, fields, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET
				fields     = excluded.fields,
				version    = excluded.version,
				updated_at = excluded.updated_at
		`, w.Collection, w.ID, string(raw), existing.Version+1, now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func getDoc(ctx context.Context, q querier, collection, id string) (docstore.Doc, error) {
	var raw string
	var version int64
	err := q.QueryRowContext(ctx,
		`SELECT fields, version FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Doc{}, nil
	}
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("read %s/%s: %w", collection, id, err)
	}

	fields, err := decodeFields(raw)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("%w: %s/%s: %v", domain.ErrInvalidDocument, collection, id, err)
	}
	return docstore.Doc{Fields: fields, Version: version}, nil
}

// decodeFields keeps numbers as json.Number so integers survive exactly.
func decodeFields(raw string) (domain.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var f domain.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	if f == nil {
		f = domain.Fields{}
	}
	return f, nil
}

// recordLedgerChange validates the next ledger document and audits any
// change of its running total.
func recordLedgerChange(ctx context.Context, tx *sql.Tx, userID string, before, after domain.Fields, at time.Time) error {
	next, err := domain.LedgerFromFields(userID, after)
	if err != nil {
		return err
	}
	var prevTotal int64
	if before != nil {
		prev, err := domain.LedgerFromFields(userID, before)
		if err == nil {
			prevTotal = prev.TotalCredits
		}
	}

	e, changed := domain.NewLedgerEntry(userID, prevTotal, next.TotalCredits, next.LastMutationID, at)
	if !changed {
		return nil
	}
	e.Description = "prayer day update"
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (timestamp, type, entry_type, account, amount, mutation_id, description, balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.Format(time.RFC3339Nano), string(e.Type), string(e.EntryType), e.Account,
		e.Amount, e.MutationID, e.Description, e.Balance)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ─── domain.DocumentStore ───────────────────────────────────────────────────

// Get returns the document or domain.ErrNotFound.
func (db *DB) Get(ctx context.Context, collection, id string) (domain.Fields, error) {
	return docstore.Get(ctx, db, collection, id)
}

// SetMerge merges fields into the document.
func (db *DB) SetMerge(ctx context.Context, collection, id string, fields domain.Fields) error {
	return docstore.SetMerge(ctx, db, collection, id, fields)
}

// RunTransaction runs fn with optimistic concurrency control.
func (db *DB) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Txn) error) error {
	return docstore.RunTransaction(ctx, db, db.MaxAttempts, fn)
}

// ListIDs returns the sorted document ids of a collection.
func (db *DB) ListIDs(ctx context.Context, collection string) ([]string, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Ledger Audit ───────────────────────────────────────────────────────────

// LedgerEntries returns up to limit audit rows for account, newest first.
func (db *DB) LedgerEntries(ctx context.Context, account string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, timestamp, type, entry_type, account, amount, COALESCE(mutation_id, ''), COALESCE(description, ''), balance
		FROM ledger_entries WHERE account = ?
		ORDER BY id DESC LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts, typ, entryType string
		if err := rows.Scan(&e.ID, &ts, &typ, &entryType, &e.Account, &e.Amount, &e.MutationID, &e.Description, &e.Balance); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Type = domain.TransactionType(typ)
		e.EntryType = domain.EntryType(entryType)
		out = append(out, e)
	}
	return out, rows.Err()
}
