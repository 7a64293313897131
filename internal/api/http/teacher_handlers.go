package http

import (
	"net/http"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

type createExamRequest struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title" validate:"required"`
	QuestionPool           []string   `json:"question_pool" validate:"dive,required"`
	TotalQuestions         int        `json:"total_questions" validate:"gte=0"`
	MaxAttempts            int        `json:"max_attempts" validate:"gte=0"`
	DurationPerQuestionSec int        `json:"duration_per_question_sec" validate:"gte=0"`
	PassingPercentage      float64    `json:"passing_percentage" validate:"gte=0,lte=100"`
	NegativeMarks          float64    `json:"negative_marks" validate:"gte=0"`
	ShuffleOptions         bool       `json:"shuffle_options"`
	GraceSec               int        `json:"grace_sec" validate:"gte=0"`
	StartTime              *time.Time `json:"start_time"`
	EndTime                *time.Time `json:"end_time"`
	Status                 string     `json:"status" validate:"omitempty,oneof=draft published completed"`
}

// POST /exams
// duration_sec is not accepted; it is derived from the question count.
func CreateExamHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createExamRequest
		if !decodeValid(w, r, &req) {
			return
		}
		e := exam.Exam{
			ID:                     req.ID,
			Title:                  req.Title,
			QuestionPool:           req.QuestionPool,
			TotalQuestions:         req.TotalQuestions,
			MaxAttempts:            req.MaxAttempts,
			DurationPerQuestionSec: req.DurationPerQuestionSec,
			PassingPercentage:      req.PassingPercentage,
			NegativeMarks:          req.NegativeMarks,
			ShuffleOptions:         req.ShuffleOptions,
			GraceSec:               req.GraceSec,
			Status:                 exam.ExamStatus(req.Status),
			CreatedBy:              rbac.SubjectFromContext(r.Context()),
		}
		if req.StartTime != nil {
			e.StartTime = *req.StartTime
		}
		if req.EndTime != nil {
			e.EndTime = *req.EndTime
		}
		saved, err := svc.CreateExam(r.Context(), e)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

type optionRequest struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required"`
	IsCorrect bool   `json:"is_correct"`
}

type createQuestionRequest struct {
	ID              string          `json:"id"`
	ExamID          string          `json:"exam_id"`
	Text            string          `json:"text" validate:"required"`
	Type            string          `json:"type" validate:"required,oneof=multiple-choice true-false short-answer"`
	Options         []optionRequest `json:"options" validate:"dive"`
	Marks           float64         `json:"marks" validate:"gte=0"`
	CanonicalAnswer string          `json:"canonical_answer"`
	Explanation     string          `json:"explanation"`
	Status          string          `json:"status" validate:"omitempty,oneof=Active Inactive"`
}

// POST /questions
// Creates or replaces a question. Questions already graded in a result are
// rejected with 409.
func PutQuestionHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuestionRequest
		if !decodeValid(w, r, &req) {
			return
		}
		q := exam.Question{
			ID:              req.ID,
			ExamID:          req.ExamID,
			Text:            req.Text,
			Type:            exam.QuestionType(req.Type),
			Marks:           req.Marks,
			CanonicalAnswer: req.CanonicalAnswer,
			Explanation:     req.Explanation,
			Status:          exam.QuestionStatus(req.Status),
			CreatedBy:       rbac.SubjectFromContext(r.Context()),
		}
		for _, o := range req.Options {
			q.Options = append(q.Options, exam.Option{ID: o.ID, Text: o.Text, IsCorrect: o.IsCorrect})
		}
		saved, err := svc.PutQuestion(r.Context(), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}
