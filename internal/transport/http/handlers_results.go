package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"veilvote/internal/transport/http/shared"
	dErrors "veilvote/pkg/domain-errors"
)

func (h *Handlers) handleResults(w http.ResponseWriter, r *http.Request) {
	pollID, err := uuid.Parse(chi.URLParam(r, "pollID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "pollID must be a UUID"))
		return
	}

	res, err := h.analytics.Results(r.Context(), pollID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, res)
}
