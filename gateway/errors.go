package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"fusiond/native/coordination"
	"fusiond/native/escrow"
	"fusiond/native/htlc"
	"fusiond/native/ledger"
	"fusiond/native/order"
)

type errorBody struct {
	Error string `json:"error"`
	// Code flags error classes operators alert on.
	Code string `json:"code,omitempty"`
}

// Machine-readable codes attached to responses that need operator attention
// beyond the HTTP status alone.
const (
	codeManualIntervention = "manual_intervention_required"
	codeLedgerFailure      = "ledger_failure"
)

// statusFor maps engine errors onto an HTTP status and, where operators need
// to distinguish the class, a machine-readable code. Unrecognised errors
// surface as 500 so they get noticed.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, coordination.ErrNotFound):
		return http.StatusNotFound, ""
	case errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden, ""
	case errors.Is(err, order.ErrRateLimited),
		errors.Is(err, order.ErrTooManyOrders):
		return http.StatusTooManyRequests, ""
	case errors.Is(err, coordination.ErrSignerUnhealthy):
		return http.StatusServiceUnavailable, ""
	case errors.Is(err, order.ErrManualIntervention):
		return http.StatusInternalServerError, codeManualIntervention
	case errors.Is(err, ledger.ErrCallFailed),
		errors.Is(err, ledger.ErrTransferRejected):
		return http.StatusBadGateway, codeLedgerFailure
	case errors.Is(err, order.ErrInvalidAmount),
		errors.Is(err, order.ErrInvalidExpiration),
		errors.Is(err, order.ErrInvalidAssetPair),
		errors.Is(err, order.ErrInvalidSecretIndex),
		errors.Is(err, order.ErrInvalidAuction),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, coordination.ErrSecretMismatch),
		errors.Is(err, htlc.ErrInvalidSecret),
		errors.Is(err, htlc.ErrInvalidHashlock),
		errors.Is(err, htlc.ErrInvalidTimelock),
		errors.Is(err, htlc.ErrTimelockTooShort):
		return http.StatusBadRequest, ""
	case errors.Is(err, order.ErrAlreadyFilled),
		errors.Is(err, order.ErrCancelled),
		errors.Is(err, order.ErrExpired),
		errors.Is(err, order.ErrNotProfitable),
		errors.Is(err, order.ErrInsufficientRemaining),
		errors.Is(err, order.ErrFillInProgress),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrAlreadySettled),
		errors.Is(err, coordination.ErrInvalidState),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, htlc.ErrTimelockExpired),
		errors.Is(err, htlc.ErrTimelockNotExpired):
		return http.StatusConflict, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
