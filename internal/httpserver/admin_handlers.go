package httpserver

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/x402kit/facilitator/internal/errors"
	"github.com/x402kit/facilitator/pkg/responders"
)

// adminCleanupMessage is the fixed message an admin wallet must sign to
// authorize a manual nonce-reservation sweep, via the X-Signature/X-Message/
// X-Signer headers SignatureVerifier expects.
const adminCleanupMessage = "x402kit-facilitator:admin:cleanup-nonces"

// adminCleanupNonces lets an operator force an out-of-band sweep of expired
// nonce reservations without waiting for the background Sweeper's interval,
// useful when reclaiming nonces ahead of a burst of expected traffic. It is
// disabled (404) unless cfg.Server.AdminWallet is configured.
func (h *handlers) adminCleanupNonces(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil || h.cfg.Server.AdminWallet == "" {
		http.NotFound(w, r)
		return
	}
	if h.nonces == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "nonce store not configured")
		return
	}

	if err := h.adminAuth.VerifyAdminRequest(r, h.cfg.Server.AdminWallet, adminCleanupMessage); err != nil {
		resp := apierrors.NewErrorResponse(apierrors.ErrCodeInvalidSignature, err.Error(), nil)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	removed, err := h.nonces.CleanupExpired(r.Context())
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, err.Error())
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}
