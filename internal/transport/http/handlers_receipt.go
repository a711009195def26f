package httptransport

import (
	"encoding/json"
	"net/http"

	"veilvote/internal/receipt"
	"veilvote/internal/transport/http/shared"
	dErrors "veilvote/pkg/domain-errors"
)

func (h *Handlers) handleReceiptPublicKey(w http.ResponseWriter, r *http.Request) {
	shared.WriteJSON(w, http.StatusOK, map[string]string{
		"algorithm": receipt.Algorithm,
		"publicKey": h.signer.PublicKey(),
	})
}

func (h *Handlers) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var rec receipt.Receipt
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid receipt body"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]bool{"valid": h.signer.Verify(rec)})
}
