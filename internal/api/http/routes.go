package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

type Deps struct {
	Service *exam.Service
	Auth    *auth.AuthService
	Login   auth.LoginOptions
	// Ready reports whether the backing store is reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Mount registers the public and the JWT-protected routes on r.
func Mount(r chi.Router, d Deps) {
	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Login))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Kind: exam.KindInfrastructure})
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	// Protected API (JWT → subject and role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		// Teacher
		pr.With(rbac.Require(rbac.PermExamCreate)).
			Post("/exams", CreateExamHandler(d.Service))
		pr.With(rbac.Require(rbac.PermQuestionCreate)).
			Post("/questions", PutQuestionHandler(d.Service))

		// Student flow
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Post("/exams/{examID}/sessions", StartSessionHandler(d.Service))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).
			Post("/exams/{examID}/submit", SubmitHandler(d.Service))

		// Results; ownership is checked by the service
		pr.With(rbac.Require(rbac.PermResultViewOwn)).
			Get("/results/mine", ListMyResultsHandler(d.Service))
		pr.With(rbac.RequireAny(rbac.PermResultViewOwn, rbac.PermResultViewAll)).
			Get("/results/{resultID}", GetResultHandler(d.Service))
		pr.With(rbac.Require(rbac.PermResultViewAll)).
			Get("/results", ListResultsHandler(d.Service))
	})
}
