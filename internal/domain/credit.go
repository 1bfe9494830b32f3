package domain

import "time"

// ─── User Ledger ────────────────────────────────────────────────────────────
// The ledger is owned by the remote store and mirrored locally for display.

// UserLedger is the per-user credit and streak aggregate.
type UserLedger struct {
	UserID         string    `json:"user_id"`
	TotalCredits   int64     `json:"total_credits"`
	CurrentStreak  int       `json:"current_streak"`
	CreatedAt      time.Time `json:"created_at"`
	Gender         Gender    `json:"gender"`
	Timezone       string    `json:"timezone,omitempty"`
	LastMutationID string    `json:"last_mutation_id,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// NewUserLedger returns a zero-balance ledger created at createdAt.
func NewUserLedger(userID string, createdAt time.Time) UserLedger {
	return UserLedger{
		UserID:    userID,
		CreatedAt: createdAt,
		Gender:    GenderUnspecified,
	}
}

// ClampTotal applies a credit delta without letting the balance go negative.
func ClampTotal(total, delta int64) int64 {
	if n := total + delta; n > 0 {
		return n
	}
	return 0
}

// ─── Ledger Audit Entries ───────────────────────────────────────────────────

// EntryType represents the accounting side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// TransactionType represents the business reason for a balance change.
type TransactionType string

const (
	TxEarn   TransactionType = "EARN"   // a re-log raised the day's credits
	TxDeduct TransactionType = "DEDUCT" // a re-log lowered the day's credits
)

// LedgerEntry is one audit row recorded when a committed write changes a
// user's running total.
type LedgerEntry struct {
	ID          int64           `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        TransactionType `json:"type"`
	EntryType   EntryType       `json:"entry_type"`
	Account     string          `json:"account"`
	Amount      int64           `json:"amount"`
	MutationID  string          `json:"mutation_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Balance     int64           `json:"balance"`
}

// NewLedgerEntry classifies a balance move from before to after.
// ok is false when the balance did not change.
func NewLedgerEntry(account string, before, after int64, mutationID string, at time.Time) (LedgerEntry, bool) {
	diff := after - before
	if diff == 0 {
		return LedgerEntry{}, false
	}
	e := LedgerEntry{
		Timestamp:  at,
		Account:    account,
		MutationID: mutationID,
		Balance:    after,
	}
	if diff > 0 {
		e.Type, e.EntryType, e.Amount = TxEarn, EntryCredit, diff
	} else {
		e.Type, e.EntryType, e.Amount = TxDeduct, EntryDebit, -diff
	}
	return e, true
}
