package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorBody struct {
	Error  string            `json:"error"`
	Kind   exam.ErrorKind    `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exam.ErrSubmissionWindowExpired):
		return http.StatusGone
	case errors.Is(err, exam.ErrExamWindowClosed), errors.Is(err, exam.ErrExamNotAvailable):
		return http.StatusForbidden
	}
	switch exam.Kind(err) {
	case exam.KindConfig:
		return http.StatusUnprocessableEntity
	case exam.KindBusinessRule:
		return http.StatusConflict
	case exam.KindNotFound:
		return http.StatusNotFound
	case exam.KindForbidden:
		return http.StatusForbidden
	case exam.KindInvalid:
		return http.StatusBadRequest
	case exam.KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := exam.Kind(err)
	msg := err.Error()
	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if kind == exam.KindInternal {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// decodeValid decodes the JSON body into dst and runs struct validation.
// On failure it writes a 400 and returns false.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad json", Kind: exam.KindInvalid})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		body := errorBody{Error: "validation failed", Kind: exam.KindInvalid}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			body.Fields = make(map[string]string, len(ve))
			for _, fe := range ve {
				body.Fields[fe.Namespace()] = fe.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, body)
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
