package api

import (
	"fmt"
	"net/http"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/infra/docstore"
)

// ─── Document Endpoints ─────────────────────────────────────────────────────

// GET /v1/documents?collection=&id=
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	collection := r.URL.Query().Get("collection")
	id := r.URL.Query().Get("id")
	if collection == "" || id == "" {
		writeError(w, http.StatusBadRequest, "collection and id are required")
		return
	}
	if err := authorize(r.Context(), collection, id); err != nil {
		s.fail(w, r, err)
		return
	}

	doc, err := s.store.GetVersioned(r.Context(), collection, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !doc.Exists() {
		s.fail(w, r, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, collection, id))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PATCH /v1/documents
func (s *Server) handlePatchDocument(w http.ResponseWriter, r *http.Request) {
	var body docstore.MergeRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := authorize(r.Context(), body.Collection, body.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := docstore.SetMerge(r.Context(), s.store, body.Collection, body.ID, body.Fields); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/commit
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req docstore.CommitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, p := range req.Preconditions {
		if err := authorize(r.Context(), p.Collection, p.ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	for _, wr := range req.Writes {
		if err := authorize(r.Context(), wr.Collection, wr.ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if err := s.store.Commit(r.Context(), req); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
