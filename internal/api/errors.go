package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order; the first errors.Is match wins.
var errorTable = []errorMapping{
	{errs.ErrIntentNotFound, http.StatusNotFound, "intent_not_found"},
	{errs.ErrPaymentRejected, http.StatusPaymentRequired, "payment_rejected"},
	{errs.ErrAmountMismatch, http.StatusConflict, "amount_mismatch"},
	{errs.ErrNotEntitled, http.StatusForbidden, "not_entitled"},
	{errs.ErrEntitlementExpired, http.StatusForbidden, "entitlement_expired"},
	{errs.ErrQuotaExceeded, http.StatusForbidden, "quota_exceeded"},
	{errs.ErrAssetMissingOnBackend, http.StatusGone, "asset_missing"},
	{errs.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{errs.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{errs.ErrTokenCollision, http.StatusConflict, "token_collision"},
	{errs.ErrInvalidCart, http.StatusBadRequest, "invalid_cart"},
	{errs.ErrAssetUnavailable, http.StatusConflict, "asset_unavailable"},
	{errs.ErrIntentExpired, http.StatusGone, "intent_expired"},
	{errs.ErrAssetReferenced, http.StatusConflict, "asset_referenced"},
	{errs.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{errs.ErrForbidden, http.StatusForbidden, "forbidden"},
	{errs.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{errs.ErrNotFound, http.StatusNotFound, "not_found"},
	{errs.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{errs.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{errs.ErrConflict, http.StatusConflict, "conflict"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// writeError maps err to a status and a stable code. Unmapped errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFromContext(r.Context())), zap.Error(err))
		msg = "internal server error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="vaultshop"`)
	}
	writeJSON(w, status, apiError{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
