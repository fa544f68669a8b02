package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/shibukawa/tokenlab/internal/metrics"
	"github.com/shibukawa/tokenlab/internal/token"
)

// maxRequestBodyBytes caps the size of a forgot-password request body.
const maxRequestBodyBytes = 64 << 10

// TokenResponse is the body of a successful forgot-password request.
type TokenResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the body of a rejected request.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// vulnerableRequest uses a pointer so that a missing field can be told apart
// from an empty string.
type vulnerableRequest struct {
	UserID *string `json:"user_id"`
}

// handleSecureForgotPassword issues a token from OS entropy. The request body
// is ignored.
func (s *Server) handleSecureForgotPassword(w http.ResponseWriter, _ *http.Request) {
	tok := token.GenerateSecureToken()

	metrics.RecordTokenIssued(string(token.StrategySecure))
	s.prettyLog.TokenIssued(token.StrategySecure, "", tok)

	writeToken(w, tok)
}

// handleVulnerableForgotPassword issues a token from the fixed-seed PRNG for
// the user_id in the JSON body.
func (s *Server) handleVulnerableForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req vulnerableRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		description := "request body must be a JSON object with a string user_id"
		if errors.Is(err, io.EOF) {
			description = "request body is empty"
		}
		s.logger.Debug("rejected forgot-password request", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_request", description)
		return
	}
	if req.UserID == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	tok := token.GenerateVulnerableToken(*req.UserID)

	metrics.RecordTokenIssued(string(token.StrategyVulnerable))
	s.prettyLog.TokenIssued(token.StrategyVulnerable, *req.UserID, tok)

	writeToken(w, tok)
}

func writeToken(w http.ResponseWriter, tok string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, TokenResponse{Token: tok})
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, ErrorResponse{Error: code, ErrorDescription: description})
}

// writeJSON writes v without HTML escaping and without a trailing newline so
// that tokens echo user ids byte for byte.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
