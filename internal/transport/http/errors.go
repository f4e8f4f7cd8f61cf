package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"liveboard/internal/domain"

	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Error         string `json:"error"`
	Kind          string `json:"kind"`
	Field         string `json:"field,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
	PendingAnswer string `json:"pendingAnswer,omitempty"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) (int, string) {
	switch domain.Kind(err) {
	case domain.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case domain.ErrValidation:
		return http.StatusUnprocessableEntity, "validation"
	case domain.ErrInvalidTransition:
		return http.StatusConflict, "invalid_transition"
	case domain.ErrStore:
		return http.StatusServiceUnavailable, "store"
	}
	return http.StatusInternalServerError, "internal"
}

func errorPayload(err error) (int, errorBody) {
	status, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	switch status {
	case http.StatusServiceUnavailable:
		body.Error = "temporary storage failure, retry the same action"
		body.Retryable = true
	case http.StatusInternalServerError:
		body.Error = "internal error"
	}
	return status, body
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status, body := errorPayload(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("unhandled error")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return domain.NewValidationError("body", "malformed JSON")
	}
	return nil
}
