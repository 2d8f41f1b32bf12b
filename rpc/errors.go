package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"powchain/consensus"
	"powchain/core"
	"powchain/logger"
	"powchain/miner"
)

// ErrorResponse is the body of every non-2xx REST reply.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    string      `json:"kind,omitempty"`
	Block   *core.Block `json:"block,omitempty"`
}

// statusFor maps domain errors to HTTP status codes. A halt is checked
// lebih dulu karena membungkus error chain penyebabnya.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, miner.ErrNotPersisted):
		return http.StatusServiceUnavailable, "not_persisted"
	case errors.Is(err, miner.ErrHalted):
		return http.StatusServiceUnavailable, "halted"
	case errors.Is(err, miner.ErrQueueClosed):
		return http.StatusServiceUnavailable, "closed"
	case errors.Is(err, consensus.ErrCancelled):
		return http.StatusConflict, "cancelled"
	case errors.Is(err, consensus.ErrExhausted):
		return http.StatusConflict, "exhausted"
	case core.IsValidityError(err):
		return http.StatusUnprocessableEntity, core.RejectReason(err)
	case errors.Is(err, core.ErrInvalidDifficulty):
		return http.StatusBadRequest, "invalid_difficulty"
	case errors.Is(err, core.ErrBlockNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeBlockError(w, nil, err)
}

// writeBlockError reports err along with a block the request did produce.
func writeBlockError(w http.ResponseWriter, block *core.Block, err error) {
	status, kind := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("API request failed: %v", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind, Block: block})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Kind: "bad_request"})
}
