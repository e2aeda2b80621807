package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/arena/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error  string           `json:"error"`
	Kind   domain.ErrorKind `json:"kind,omitempty"`
	Reason domain.Reason    `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, log, status, ErrorResponse{
		Error:  err.Error(),
		Kind:   domain.KindOf(err),
		Reason: domain.ReasonOf(err),
	})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch domain.ReasonOf(err) {
	case domain.ReasonNotFound:
		return http.StatusNotFound
	case domain.ReasonSignerUnavailable:
		return http.StatusPreconditionRequired
	case domain.ReasonWrongNetwork:
		return http.StatusConflict
	case domain.ReasonUserRejectedSignature:
		return http.StatusForbidden
	case domain.ReasonInsufficientFunds, domain.ReasonContractRejected:
		return http.StatusUnprocessableEntity
	}

	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindRunInProgress, domain.KindCancelled:
		return http.StatusConflict
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindConnectivity:
		return http.StatusServiceUnavailable
	case domain.KindProvider, domain.KindStorage, domain.KindContract:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "invalid request body: %v", err)
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.KindValidation, domain.ReasonInvalidConfig, "invalid %s %q", name, raw)
	}
	return v, nil
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
