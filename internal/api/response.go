package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"turfie/internal/service"

	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type errorBody struct {
	Error  string            `json:"error"`
	Reason string            `json:"reason,omitempty"`
	Retry  bool              `json:"retry,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := service.ReasonOf(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Reason: string(reason)})
		return
	}

	switch {
	case errors.Is(err, service.ErrOverlap):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: "Overlap"})
	case errors.Is(err, service.ErrConcurrentConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: "ConcurrentConflict", Retry: true})
	case errors.Is(err, service.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: "InvalidTransition"})
	case errors.Is(err, service.ErrVenueNotApproved):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: "VenueNotApproved"})
	case errors.Is(err, service.ErrInvalidVenue):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrVenueNotFound), errors.Is(err, service.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", r.Header.Get(requestIDHeader)).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody decodes and validates a JSON request body. It writes the error
// response itself and reports whether the handler should continue.
func (s *HTTPServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
