package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"llmbridge/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// errSuperseded is reported to a generate caller whose request was replaced
// by a newer one on the same handle.
var errSuperseded = errors.New("superseded by a newer request on the same handle")

// statusFor maps bridge errors onto HTTP status codes.
func statusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidHandle, types.KindAssetNotFound:
		return http.StatusNotFound
	case types.KindVisionNotEnabled, types.KindImageDecode:
		return http.StatusBadRequest
	case types.KindModelLoad:
		return http.StatusUnprocessableEntity
	case types.KindInference:
		return http.StatusBadGateway
	case types.KindNoModelLoaded:
		return http.StatusConflict
	}
	if errors.Is(err, errSuperseded) {
		return http.StatusConflict
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status and bridge kind.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, types.ErrorResponse{Error: err.Error(), Code: status, Kind: types.KindOf(err)})
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
