package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// POST /exams/{examID}/sessions
// Starts an attempt for the caller. The payload carries no answer data.
func StartSessionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		userID := rbac.SubjectFromContext(r.Context())
		sess, err := svc.StartSession(r.Context(), examID, userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

type submitRequest struct {
	SessionID string                 `json:"session_id"`
	Answers   []exam.SubmittedAnswer `json:"answers" validate:"dive"`
}

// POST /exams/{examID}/submit
// Without session_id the caller's latest open session is graded.
func SubmitHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !decodeValid(w, r, &req) {
			return
		}
		res, err := svc.Submit(r.Context(), exam.SubmitInput{
			ExamID:    chi.URLParam(r, "examID"),
			UserID:    rbac.SubjectFromContext(r.Context()),
			SessionID: req.SessionID,
			Answers:   req.Answers,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}
