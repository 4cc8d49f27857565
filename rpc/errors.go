package rpc

import (
	"errors"
	"net/http"

	"openbounty/core"
	"openbounty/gateway/middleware"
)

// writeLedgerError maps a rejected ledger call onto an HTTP status and JSON-RPC
// code. The canonical kind travels in error.data.kind.
func writeLedgerError(w http.ResponseWriter, req *RPCRequest, err error) {
	kind := core.ErrorKind(err)
	status := http.StatusConflict
	code := codeLedgerConflict
	message := "rejected"
	switch kind {
	case "":
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction", err.Error())
		return
	case "BountyNotFound", "ProfileNotFound", "TreasuryNotInitialized":
		status = http.StatusNotFound
		code = codeNotFound
		message = "not_found"
	case "Unauthorized":
		status = http.StatusForbidden
		code = codeUnauthorized
		message = "unauthorized"
	case "InvalidPrizeAmount", "InvalidDescriptionHash", "InvalidDeadline",
		"InvalidSubmissionReference", "InvalidNonce", "UnknownTransactionType":
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case "FaucetDisabled":
		status = http.StatusForbidden
		code = codeUnavailable
		message = "faucet_disabled"
	case "FaucetLimitExceeded":
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case "ArithmeticOverflow":
		status = http.StatusInternalServerError
		code = codeServerError
		message = "internal_error"
	}
	writeError(w, status, req.ID, code, message, ErrorData{Kind: kind, Detail: err.Error()})
}

func writeAuthError(w http.ResponseWriter, req *RPCRequest, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, middleware.ErrInsufficientScope) {
		status = http.StatusForbidden
	}
	writeError(w, status, req.ID, codeUnauthorized, err.Error(), nil)
}
