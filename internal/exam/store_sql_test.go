package exam_test

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dbh, err := db.Open(ctx, db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return dbh
}

func openSQLite(t *testing.T) *exam.SQLStore {
	t.Helper()
	return exam.NewSQLStore(openDB(t, "file::memory:?_pragma=foreign_keys(1)"), string(db.DriverSQLite))
}

// openSQLiteFile opens a temp-file database with a real connection pool.
func openSQLiteFile(t *testing.T) (*sql.DB, *exam.SQLStore) {
	t.Helper()
	dbh := openDB(t, db.SQLiteDSN(filepath.Join(t.TempDir(), "exams.db")))
	dbh.SetMaxOpenConns(8)
	return dbh, exam.NewSQLStore(dbh, string(db.DriverSQLite))
}

func sqlFixture(t *testing.T) (*fixture, *exam.SQLStore) {
	t.Helper()
	return newSQLFixture(t, openSQLite(t))
}

func newSQLFixture(t *testing.T, store *exam.SQLStore) (*fixture, *exam.SQLStore) {
	t.Helper()
	f := &fixture{store: store, clock: newClock()}
	f.svc = exam.NewService(store,
		exam.WithClock(f.clock.Now),
		exam.WithRandSource(rand.NewSource(5)),
		exam.WithAuthorizer(staffAuthz{"teacher-1": true}),
	)
	return f, store
}

func TestSQLStore_ExamRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := exam.Exam{
		ID: "e1", Title: "Physics", QuestionPool: []string{"a", "b", "c"},
		TotalQuestions: 2, MaxAttempts: 3, DurationPerQuestionSec: 90, DurationSec: 1,
		PassingPercentage: 55.5, NegativeMarks: 0.25, ShuffleOptions: true, GraceSec: 15,
		CreatedBy: "t1", StartTime: start, Status: exam.StatusPublished, CreatedAt: 1700000000,
	}
	if err := store.PutExam(ctx, in); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetExam(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DurationSec != 180 {
		t.Fatalf("duration must be recomputed on save, got %d", got.DurationSec)
	}
	if !got.StartTime.Equal(start) || !got.EndTime.IsZero() {
		t.Fatalf("window: %v .. %v", got.StartTime, got.EndTime)
	}
	if got.Title != in.Title || len(got.QuestionPool) != 3 || !got.ShuffleOptions ||
		got.PassingPercentage != 55.5 || got.NegativeMarks != 0.25 || got.Status != exam.StatusPublished {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	in.Title = "Physics II"
	if err := store.PutExam(ctx, in); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got, _ := store.GetExam(ctx, "e1"); got.Title != "Physics II" {
		t.Fatalf("upsert lost: %q", got.Title)
	}

	if _, err := store.GetExam(ctx, "missing"); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSQLStore_GetQuestionsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f, store := sqlFixture(t)
	f.seedQuestions(t, 4)

	got, err := store.GetQuestions(ctx, []string{"q3", "missing", "q1", "q3", "q4"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != "q3" || got[1].ID != "q1" || got[2].ID != "q4" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(got[0].Options) != 3 || !got[0].Options[0].IsCorrect || got[0].Explanation != "because" {
		t.Fatalf("full record expected: %+v", got[0])
	}
}

func TestSQLStore_AttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	f, store := sqlFixture(t)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 2 })

	sess, err := f.svc.StartSession(ctx, e.ID, "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	open, err := store.LatestOpenSession(ctx, "alice", e.ID)
	if err != nil || open.ID != sess.ID || len(open.QuestionIDs) != 3 {
		t.Fatalf("open session: %+v %v", open, err)
	}

	f.clock.Advance(time.Minute)
	res, err := f.svc.Submit(ctx, exam.SubmitInput{ExamID: e.ID, UserID: "alice", Answers: answers(sess, 2)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.AttemptNumber != 1 || res.Percentage != 66.67 || !res.IsPassed {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := store.LatestOpenSession(ctx, "alice", e.ID); !errors.Is(err, exam.ErrSessionNotFound) {
		t.Fatalf("submitted session must not be open: %v", err)
	}

	stored, err := store.GetResult(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Answers) != 3 || stored.Answers[0].QuestionID != sess.Questions[0].ID || stored.ObtainedMarks != 20 {
		t.Fatalf("stored result mismatch: %+v", stored)
	}
	if !stored.SubmittedAt.Equal(res.SubmittedAt) {
		t.Fatalf("submitted_at: %v vs %v", stored.SubmittedAt, res.SubmittedAt)
	}

	locked, err := store.QuestionLocked(ctx, sess.Questions[0].ID)
	if err != nil || !locked {
		t.Fatalf("graded question must be locked: %v %v", locked, err)
	}
	qs, _ := store.GetQuestions(ctx, []string{sess.Questions[0].ID})
	if err := store.PutQuestion(ctx, qs[0]); !errors.Is(err, exam.ErrQuestionLocked) {
		t.Fatalf("want ErrQuestionLocked, got %v", err)
	}

	// replaying the same session is rejected even below the ceiling
	again := res
	again.ID = "replay"
	if _, err := store.InsertResultBelowCeiling(ctx, again, 5); !errors.Is(err, exam.ErrSessionSubmitted) {
		t.Fatalf("want ErrSessionSubmitted, got %v", err)
	}

	events, err := store.Events().ListByKey(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != syncx.TypeAttemptSubmitted {
		t.Fatalf("want one AttemptSubmitted event, got %+v", events)
	}
}

func TestSQLStore_CeilingAndListing(t *testing.T) {
	ctx := context.Background()
	f, store := sqlFixture(t)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 2 })

	var ids []string
	for i := 0; i < 2; i++ {
		sess, err := f.svc.StartSession(ctx, e.ID, "bob")
		if err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(time.Minute)
		res, err := f.svc.Submit(ctx, exam.SubmitInput{ExamID: e.ID, UserID: "bob", SessionID: sess.ID, Answers: answers(sess, 3)})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, res.ID)
	}

	// a session created before the ceiling was hit cannot push past it
	late := exam.Session{ID: "late", ExamID: e.ID, UserID: "bob", QuestionIDs: []string{"q1"},
		StartedAt: f.clock.Now(), ExpiresAt: f.clock.Now().Add(time.Minute)}
	if err := store.CreateSession(ctx, late); err != nil {
		t.Fatal(err)
	}
	_, err := store.InsertResultBelowCeiling(ctx, exam.Result{
		ID: "r-late", ExamID: e.ID, UserID: "bob", SessionID: "late", SubmittedAt: f.clock.Now(),
	}, e.MaxAttempts)
	if !errors.Is(err, exam.ErrAttemptsExhausted) {
		t.Fatalf("want ErrAttemptsExhausted, got %v", err)
	}
	if n, _ := store.CountResults(ctx, "bob", e.ID); n != 2 {
		t.Fatalf("want 2 results, got %d", n)
	}

	list, err := store.ListResults(ctx, exam.ResultListOpts{UserID: "bob"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != ids[1] || list[1].ID != ids[0] {
		t.Fatalf("want newest first, got %+v", list)
	}
	page, err := store.ListResults(ctx, exam.ResultListOpts{ExamID: e.ID, Offset: 1})
	if err != nil || len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("offset page: %+v %v", page, err)
	}
	if len(page[0].Answers) != 3 {
		t.Fatalf("answers not loaded: %+v", page[0])
	}
	none, err := store.ListResults(ctx, exam.ResultListOpts{UserID: "nobody"})
	if err != nil || len(none) != 0 {
		t.Fatalf("want empty list, got %+v %v", none, err)
	}
}

func TestSQLStore_ConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	f, _ := sqlFixture(t)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 1 })

	sessions := make([]exam.Session, 4)
	for i := range sessions {
		s, err := f.svc.StartSession(ctx, e.ID, "carol")
		if err != nil {
			t.Fatal(err)
		}
		sessions[i] = s
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s exam.Session) {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, exam.SubmitInput{ExamID: e.ID, UserID: "carol", SessionID: s.ID, Answers: answers(s, 1)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, exam.ErrAttemptsExhausted):
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("exactly one submission may succeed, got %d", succeeded)
	}
}

func TestSQLStore_ConcurrentSubmissionsOnFile(t *testing.T) {
	ctx := context.Background()
	_, store := openSQLiteFile(t)
	f, _ := newSQLFixture(t, store)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 2 })

	sessions := make([]exam.Session, 8)
	for i := range sessions {
		s, err := f.svc.StartSession(ctx, e.ID, "erin")
		if err != nil {
			t.Fatal(err)
		}
		sessions[i] = s
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		attempts []int
	)
	for _, s := range sessions {
		wg.Add(1)
		go func(s exam.Session) {
			defer wg.Done()
			res, err := f.svc.Submit(ctx, exam.SubmitInput{ExamID: e.ID, UserID: "erin", SessionID: s.ID, Answers: answers(s, 2)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				attempts = append(attempts, res.AttemptNumber)
			case !errors.Is(err, exam.ErrAttemptsExhausted):
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if len(attempts) != 2 || attempts[0]+attempts[1] != 3 {
		t.Fatalf("want attempts 1 and 2, got %v", attempts)
	}
	if n, _ := store.CountResults(ctx, "erin", e.ID); n != 2 {
		t.Fatalf("want 2 stored results, got %d", n)
	}
}

func TestSQLStore_SameSessionRacesOnFile(t *testing.T) {
	ctx := context.Background()
	_, store := openSQLiteFile(t)
	f, _ := newSQLFixture(t, store)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 5 })

	sess, err := f.svc.StartSession(ctx, e.ID, "fred")
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, exam.SubmitInput{ExamID: e.ID, UserID: "fred", SessionID: sess.ID, Answers: answers(sess, 1)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, exam.ErrSessionSubmitted):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 {
		t.Fatalf("a session may be submitted once, got %d", succeeded)
	}
}

func TestSQLStore_TakenAttemptNumberConflicts(t *testing.T) {
	ctx := context.Background()
	dbh, store := openSQLiteFile(t)
	f, _ := newSQLFixture(t, store)
	e := f.seedExam(t, func(e *exam.Exam) { e.MaxAttempts = 5 })

	now := f.clock.Now()
	for _, id := range []string{"s-a", "s-b"} {
		if err := store.CreateSession(ctx, exam.Session{ID: id, ExamID: e.ID, UserID: "dave",
			QuestionIDs: []string{"q1"}, StartedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
	// one stored result already holding attempt number 2
	if _, err := dbh.ExecContext(ctx, `INSERT INTO results (id,exam_id,user_id,session_id,attempt_number,total_marks,
		obtained_marks,percentage,is_passed,rating,start_time,end_time,submitted_at)
		VALUES ('r-a',$1,'dave','s-a',2,10,10,100,1,'Excellent',0,0,0)`, e.ID); err != nil {
		t.Fatal(err)
	}

	next := exam.Result{ID: "r-b", ExamID: e.ID, UserID: "dave", SessionID: "s-b", SubmittedAt: now}
	if _, err := store.InsertResultBelowCeiling(ctx, next, e.MaxAttempts); !errors.Is(err, exam.ErrAttemptConflict) {
		t.Fatalf("want ErrAttemptConflict, got %v", err)
	}

	_, err := exam.NewAttemptLedger(store, 3).RecordResult(ctx, next, e.MaxAttempts)
	if !errors.Is(err, exam.ErrAttemptsExhausted) || errors.Is(err, exam.ErrAttemptConflict) {
		t.Fatalf("want ErrAttemptsExhausted after retries, got %v", err)
	}
	if n, _ := store.CountResults(ctx, "dave", e.ID); n != 1 {
		t.Fatalf("failed inserts must roll back, got %d results", n)
	}
	if events, _ := store.Events().ListByKey(ctx, "r-b"); len(events) != 0 {
		t.Fatalf("no event for a rejected insert, got %+v", events)
	}
}
