package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bspnode/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// writeTaxonomyError translates the error taxonomy into an HTTP status and
// a JSON body carrying the machine-readable code.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		writeJSON(w, httpStatus(appErr.Code), errorBody{
			Error:       appErr.Message,
			Code:        string(appErr.Code),
			Recoverable: appErr.Recoverable,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeAlreadyBroadcasting:
		return http.StatusConflict
	case apperr.CodeCapacityExceeded:
		return http.StatusConflict
	case apperr.CodeAlreadyHost:
		return http.StatusConflict
	case apperr.CodeNotAHost:
		return http.StatusNotFound
	case apperr.CodeInviteInvalid:
		return http.StatusForbidden
	case apperr.CodeUnsupportedStreamType:
		return http.StatusUnprocessableEntity
	case apperr.CodeSignatureInvalid:
		return http.StatusUnauthorized
	case apperr.CodeExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// requireUser reads the caller identity injected by the upstream gateway.
// An empty header is rejected; authentication itself happens upstream.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if userID == "" {
		writeTaxonomyError(w, apperr.New(apperr.CodeUnauthorized, "missing X-User-ID header"))
		return "", false
	}
	return userID, true
}
