package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// errEnvelope is the uniform JSON error shape for every endpoint:
// {"code":404,"msg":"session not found"}. Successful responses return
// their payload directly, without wrapping.
type errEnvelope struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errEnvelope{Code: status, Msg: msg})
}

// respondErr renders an *apperr.Error in the envelope shape, using the
// error's own HTTP status when it carries one. Anything unwrapped is a
// 500; the chain is logged, never shown to the client.
func respondErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		respondJSON(w, appErr.HTTPStatus(), errEnvelope{Code: appErr.HTTPStatus(), Msg: appErr.Message})
		return
	}
	slog.Error("[HTTP] unhandled error", "error", err)
	respondJSON(w, http.StatusInternalServerError, errEnvelope{Code: http.StatusInternalServerError, Msg: "internal error"})
}
