package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"veilvote/internal/merkle"
	"veilvote/internal/transport/http/shared"
	dErrors "veilvote/pkg/domain-errors"
)

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	pollID, err := uuid.Parse(chi.URLParam(r, "pollID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "pollID must be a UUID"))
		return
	}

	p, err := h.polls.FindByID(r.Context(), pollID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	root := p.CurrentRoot
	if root == "" {
		root = merkle.EmptyRoot()
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"root": root})
}

// handleProof returns the inclusion proof for one leaf. The caller learns
// only sibling hashes; nothing about other ballots is recoverable from them.
func (h *Handlers) handleProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pollID, err := uuid.Parse(chi.URLParam(r, "pollID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "pollID must be a UUID"))
		return
	}
	leafHash := chi.URLParam(r, "leafHash")
	if leafHash == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "leafHash is required"))
		return
	}

	if _, err := h.polls.FindByID(ctx, pollID); err != nil {
		shared.WriteError(w, err)
		return
	}

	leaves, err := h.ballots.ListLeafHashes(ctx, pollID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	index := -1
	for i, leaf := range leaves {
		if leaf == leafHash {
			index = i
			break
		}
	}
	if index < 0 {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "leaf not found in this poll's ledger"))
		return
	}

	siblings, err := merkle.Proof(leaves, index)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "build proof"))
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"leafHash": leafHash,
		"siblings": siblings,
		"root":     merkle.BuildRoot(leaves),
	})
}
