package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/ml"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id,omitempty"`
	Row       *int   `json:"row,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Feature   string `json:"feature,omitempty"`
}

const kindInternal = "internal"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// errorResponse maps err to a status code and body.
func errorResponse(err error, requestID string) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error(), Kind: kindInternal, RequestID: requestID}

	var tooLarge errBodyTooLarge
	if errors.As(err, &tooLarge) {
		resp.Kind = string(ml.KindInvalidInput)
		return http.StatusRequestEntityTooLarge, resp
	}

	var mlErr *ml.Error
	if !errors.As(err, &mlErr) {
		return http.StatusInternalServerError, resp
	}

	resp.Kind = string(mlErr.Kind)
	resp.Error = mlErr.Msg
	if mlErr.Err != nil {
		resp.Error += ": " + mlErr.Err.Error()
	}
	resp.ClientID = mlErr.ClientID
	resp.Feature = mlErr.Feature
	if mlErr.Row >= 0 && mlErr.Kind == ml.KindSchema {
		row := mlErr.Row
		resp.Row = &row
	}

	switch mlErr.Kind {
	case ml.KindInvalidInput, ml.KindSchema:
		return http.StatusBadRequest, resp
	case ml.KindNotFound:
		return http.StatusNotFound, resp
	case ml.KindModelUnavailable:
		return http.StatusServiceUnavailable, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestID(r.Context())
	status, resp := errorResponse(err, requestID)

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).
		Str("request_id", requestID).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("kind", resp.Kind).
		Msg("request failed")

	writeJSON(w, status, resp)
}
