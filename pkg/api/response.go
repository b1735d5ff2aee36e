package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/keeperhq/landkit/internal/logger"
)

// envelope is the admin API response wrapper. Every endpoint answers with
// either a result or an error, never both.
type envelope struct {
	Success bool      `json:"success"`
	Result  any       `json:"result,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeResult writes a success envelope. Encoding happens into a buffer
// first so an encoding failure can still produce an error response.
func writeResult(w http.ResponseWriter, status int, result any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(envelope{Success: true, Result: result}); err != nil {
		logger.Error("failed to encode API response", logger.KeyError, err.Error())
		http.Error(w, `{"success":false,"error":{"code":"internal","message":"encoding failed"}}`,
			http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes a failure envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &apiError{Code: code, Message: message},
	})
}
