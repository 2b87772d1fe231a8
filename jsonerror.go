package relay

import (
	"encoding/json"
	"net/http"
)

type JSONError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

const (
	ErrorCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrorCodeNotFound            = "NOT_FOUND"
	ErrorCodeBadRequest          = "BAD_REQUEST"
	ErrorCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrorCodeInternal            = "INTERNAL"
)

func WriteError(w http.ResponseWriter, code, message, requestID string, status int) {
	writeJSONError(w, JSONError{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}, status)
}

// writeTransportError reports a failed upstream round trip. The underlying cause is only
// included when verbose is set.
func writeTransportError(w http.ResponseWriter, te *TransportError, requestID string, verbose bool) {
	jsonError := JSONError{
		Code:      te.Tag,
		Message:   te.Message,
		RequestID: requestID,
	}

	if verbose {
		jsonError.Detail = te.Verbose()
	}

	writeJSONError(w, jsonError, te.Status)
}

func writeJSONError(w http.ResponseWriter, jsonError JSONError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(jsonError); err != nil {
		// Fallback on error.
		http.Error(w, http.StatusText(status), status)
	}
}
