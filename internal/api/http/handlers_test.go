package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

/* ---------------- harness ---------------- */

type harness struct {
	t   *testing.T
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	svc := exam.NewService(exam.NewInMemoryStore(),
		exam.WithRandSource(rand.NewSource(1)),
		exam.WithAuthorizer(rbac.ResultAuthorizer{}),
	)
	r := chi.NewRouter()
	api.Mount(r, api.Deps{
		Service: svc,
		Auth:    auth.NewAuthService("test-secret", time.Hour),
		Login:   auth.LoginOptions{AdminUser: "root", AdminPassHash: string(hash), AllowLocal: true},
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv}
}

func (h *harness) login(user, pass, role string) string {
	h.t.Helper()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	code := h.do("", http.MethodPost, "/auth/login", map[string]string{"username": user, "password": pass, "role": role}, &out)
	if code != http.StatusOK {
		h.t.Fatalf("login %s: status %d", user, code)
	}
	return out.AccessToken
}

// do sends body as JSON and decodes the response into out (if non-nil).
func (h *harness) do(token, method, path string, body, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		h.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

type errResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// seed creates n short-answer questions (answer "yes") and a published exam
// drawing all of them.
func (h *harness) seed(teacher string, n, maxAttempts int) string {
	h.t.Helper()
	pool := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		var q exam.Question
		code := h.do(teacher, http.MethodPost, "/questions", map[string]any{
			"id": fmt.Sprintf("q%d", i), "text": fmt.Sprintf("Q%d?", i), "type": "short-answer",
			"canonical_answer": "yes", "marks": 5,
		}, &q)
		if code != http.StatusCreated {
			h.t.Fatalf("create question: %d", code)
		}
		pool = append(pool, q.ID)
	}
	var e exam.Exam
	code := h.do(teacher, http.MethodPost, "/exams", map[string]any{
		"title": "Quiz", "question_pool": pool, "total_questions": n,
		"max_attempts": maxAttempts, "passing_percentage": 50, "status": "published",
	}, &e)
	if code != http.StatusCreated {
		h.t.Fatalf("create exam: %d", code)
	}
	return e.ID
}

/* ---------------- tests ---------------- */

func TestAttemptFlow(t *testing.T) {
	h := newHarness(t)
	teacher := h.login("tina", "tina", "teacher")
	student := h.login("sam", "sam", "student")
	examID := h.seed(teacher, 2, 1)

	var raw map[string]any
	if code := h.do(student, http.MethodPost, "/exams/"+examID+"/sessions", nil, &raw); code != http.StatusCreated {
		t.Fatalf("start session: %d", code)
	}
	for _, q := range raw["questions"].([]any) {
		if _, leaked := q.(map[string]any)["canonical_answer"]; leaked {
			t.Fatal("canonical answer leaked to student")
		}
	}

	var res exam.Result
	code := h.do(student, http.MethodPost, "/exams/"+examID+"/submit", map[string]any{
		"answers": []map[string]string{{"question_id": "q1", "answer": " YES "}, {"question_id": "q2", "answer": "no"}},
	}, &res)
	if code != http.StatusCreated {
		t.Fatalf("submit: %d", code)
	}
	if res.UserID != "sam" || res.AttemptNumber != 1 || res.Percentage != 50 || !res.IsPassed {
		t.Fatalf("unexpected result %+v", res)
	}

	var e errResp
	if code := h.do(student, http.MethodPost, "/exams/"+examID+"/submit", map[string]any{"answers": []any{}}, &e); code != http.StatusConflict || e.Kind != string(exam.KindBusinessRule) {
		t.Fatalf("second submit: %d %+v", code, e)
	}

	var got exam.Result
	if code := h.do(student, http.MethodGet, "/results/"+res.ID, nil, &got); code != http.StatusOK || got.ID != res.ID {
		t.Fatalf("owner get: %d", code)
	}
	other := h.login("olga", "olga", "student")
	if code := h.do(other, http.MethodGet, "/results/"+res.ID, nil, nil); code != http.StatusForbidden {
		t.Fatalf("other student get: %d", code)
	}
	if code := h.do(teacher, http.MethodGet, "/results/"+res.ID, nil, nil); code != http.StatusOK {
		t.Fatalf("teacher get: %d", code)
	}

	var mine []exam.Result
	if code := h.do(student, http.MethodGet, "/results/mine", nil, &mine); code != http.StatusOK || len(mine) != 1 {
		t.Fatalf("mine: %d %d", code, len(mine))
	}
	if code := h.do(student, http.MethodGet, "/results", nil, nil); code != http.StatusForbidden {
		t.Fatalf("student list all: %d", code)
	}
	var all []exam.Result
	if code := h.do(teacher, http.MethodGet, "/results?exam_id="+examID, nil, &all); code != http.StatusOK || len(all) != 1 {
		t.Fatalf("teacher list all: %d %d", code, len(all))
	}
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	teacher := h.login("tina", "tina", "teacher")
	student := h.login("sam", "sam", "student")
	examID := h.seed(teacher, 1, 2)

	cases := []struct {
		name   string
		token  string
		method string
		path   string
		body   any
		status int
		kind   exam.ErrorKind
	}{
		{"unknown exam", student, http.MethodPost, "/exams/nope/sessions", nil, http.StatusNotFound, exam.KindNotFound},
		{"no open session", student, http.MethodPost, "/exams/" + examID + "/submit", map[string]any{}, http.StatusNotFound, exam.KindNotFound},
		{"pool too small", teacher, http.MethodPost, "/exams", map[string]any{"title": "x", "question_pool": []string{"q1"}, "total_questions": 2}, http.StatusUnprocessableEntity, exam.KindConfig},
		{"invalid dto", teacher, http.MethodPost, "/exams", map[string]any{"title": "", "passing_percentage": 101}, http.StatusBadRequest, exam.KindInvalid},
		{"bad question type", teacher, http.MethodPost, "/questions", map[string]any{"text": "x", "type": "essay"}, http.StatusBadRequest, exam.KindInvalid},
		{"answer without question", student, http.MethodPost, "/exams/" + examID + "/submit", map[string]any{"answers": []map[string]string{{"answer": "x"}}}, http.StatusBadRequest, exam.KindInvalid},
		{"missing result", student, http.MethodGet, "/results/none", nil, http.StatusNotFound, exam.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e errResp
			code := h.do(tc.token, tc.method, tc.path, tc.body, &e)
			if code != tc.status || e.Kind != string(tc.kind) {
				t.Fatalf("want %d/%s, got %d/%s (%s)", tc.status, tc.kind, code, e.Kind, e.Error)
			}
		})
	}
}

func TestAuthAndRBAC(t *testing.T) {
	h := newHarness(t)
	student := h.login("sam", "sam", "student")

	if code := h.do("", http.MethodPost, "/exams/x/sessions", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := h.do("garbage", http.MethodPost, "/exams/x/sessions", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", code)
	}
	if code := h.do(student, http.MethodPost, "/exams", map[string]any{"title": "x"}, nil); code != http.StatusForbidden {
		t.Fatalf("student create exam: %d", code)
	}

	if code := h.do("", http.MethodPost, "/auth/login", map[string]string{"username": "sam", "password": "nope", "role": "student"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("wrong local password: %d", code)
	}
	if code := h.do("", http.MethodPost, "/auth/login", map[string]string{"username": "root", "password": "root", "role": "teacher"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("admin name with local scheme: %d", code)
	}
	admin := h.login("root", "s3cret", "")
	if code := h.do(admin, http.MethodGet, "/results", nil, nil); code != http.StatusOK {
		t.Fatalf("admin list: %d", code)
	}

	if code := h.do("", http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
	if code := h.do("", http.MethodGet, "/readyz", nil, nil); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
}
