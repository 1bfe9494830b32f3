package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// ─── Ledger Summary ─────────────────────────────────────────────────────────
// GET /v1/users/{uid}/summary?limit=N returns the running total, streak and the most
// recent audit entries. Unknown users get a zero ledger.

const defaultSummaryEntries = 20

// handleSummary returns the ledger snapshot of one user.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}
	if err := authorize(r.Context(), domain.UsersCollection, uid); err != nil {
		s.fail(w, r, err)
		return
	}

	limit := defaultSummaryEntries
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ledger := domain.NewUserLedger(uid, time.Time{})
	fields, err := docstore.Get(r.Context(), s.store, domain.UsersCollection, uid)
	switch {
	case err == nil:
		if ledger, err = domain.LedgerFromFields(uid, fields); err != nil {
			s.fail(w, r, err)
			return
		}
	case !errors.Is(err, domain.ErrNotFound):
		s.fail(w, r, err)
		return
	}

	entries := []domain.LedgerEntry{}
	if s.audit != nil {
		got, err := s.audit.LedgerEntries(r.Context(), uid, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if got != nil {
			entries = got
		}
	}

	resp := map[string]interface{}{
		"user_id":        uid,
		"total_credits":  ledger.TotalCredits,
		"current_streak": ledger.CurrentStreak,
		"gender":         ledger.Gender,
		"entries":        entries,
	}
	if ledger.Timezone != "" {
		resp["timezone"] = ledger.Timezone
	}
	if !ledger.CreatedAt.IsZero() {
		resp["created_at"] = ledger.CreatedAt.Format(time.RFC3339)
	}
	if !ledger.UpdatedAt.IsZero() {
		resp["last_updated_at"] = ledger.UpdatedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
