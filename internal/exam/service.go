package exam

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

type Clock func() time.Time

// Authorizer decides whether a requester may read other users' results.
type Authorizer interface {
	CanViewAllResults(ctx context.Context, requesterID string) (bool, error)
}

type SubmittedAnswer struct {
	QuestionID string `json:"question_id" validate:"required"`
	Answer     string `json:"answer"`
}

type SubmitInput struct {
	ExamID    string
	UserID    string
	SessionID string // optional; defaults to the user's latest open session
	Answers   []SubmittedAnswer
}

type ServiceOption func(*Service)

func WithClock(c Clock) ServiceOption              { return func(s *Service) { s.now = c } }
func WithRandSource(src rand.Source) ServiceOption { return func(s *Service) { s.randSrc = src } }
func WithAuthorizer(a Authorizer) ServiceOption    { return func(s *Service) { s.authz = a } }
func WithLogger(l zerolog.Logger) ServiceOption    { return func(s *Service) { s.log = l } }
func WithSettings(st Settings) ServiceOption       { return func(s *Service) { s.settings = st } }

// Service runs the attempt lifecycle: draw a session, then grade and record
// a submission. The two steps are independent transactions; a session may
// expire between them.
type Service struct {
	store    Store
	ledger   *AttemptLedger
	session  *ExamSession
	engine   *grading.Engine
	settings Settings
	now      Clock
	randSrc  rand.Source
	authz    Authorizer
	log      zerolog.Logger
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		settings: DefaultSettings(),
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.store = withReadRetry(store, s.settings.ReadRetries, s.settings.ReadBackoff)
	s.ledger = NewAttemptLedger(s.store, s.settings.MaxRecordRetries)
	s.session = NewExamSession(s.store, s.ledger, NewQuestionPool(s.randSrc))
	s.engine = grading.NewEngine(grading.WithRatings(s.settings.Ratings))
	return s
}

func (s *Service) Ledger() *AttemptLedger { return s.ledger }

// CreateExam validates e, fills defaults and stores it. Duration is always
// recomputed from TotalQuestions and DurationPerQuestionSec.
func (s *Service) CreateExam(ctx context.Context, e Exam) (Exam, error) {
	e.Title = strings.TrimSpace(e.Title)
	switch {
	case e.Title == "":
		return Exam{}, fmt.Errorf("title required: %w", ErrInvalidExam)
	case e.TotalQuestions < 0:
		return Exam{}, fmt.Errorf("total_questions must not be negative: %w", ErrInvalidExam)
	case e.PassingPercentage < 0 || e.PassingPercentage > 100:
		return Exam{}, fmt.Errorf("passing_percentage must be within 0..100: %w", ErrInvalidExam)
	case e.NegativeMarks < 0:
		return Exam{}, fmt.Errorf("negative_marks must not be negative: %w", ErrInvalidExam)
	case !e.StartTime.IsZero() && !e.EndTime.IsZero() && !e.EndTime.After(e.StartTime):
		return Exam{}, fmt.Errorf("end_time must be after start_time: %w", ErrInvalidExam)
	case hasDuplicate(e.QuestionPool):
		return Exam{}, fmt.Errorf("question_pool lists a question twice: %w", ErrInvalidExam)
	case len(e.QuestionPool) < e.TotalQuestions:
		return Exam{}, fmt.Errorf("pool has %d, exam draws %d: %w", len(e.QuestionPool), e.TotalQuestions, ErrInsufficientPool)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = s.settings.DefaultMaxAttempts
	}
	if e.DurationPerQuestionSec <= 0 {
		e.DurationPerQuestionSec = 60
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = s.now().Unix()
	}
	e.recalcDuration()
	if err := s.store.PutExam(ctx, e); err != nil {
		return Exam{}, err
	}
	return e, nil
}

func hasDuplicate(ids []string) bool {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// PutQuestion validates and stores q. Questions already graded in a result
// are frozen.
func (s *Service) PutQuestion(ctx context.Context, q Question) (Question, error) {
	if err := validateQuestion(&q); err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	} else {
		locked, err := s.store.QuestionLocked(ctx, q.ID)
		if err != nil {
			return Question{}, err
		}
		if locked {
			return Question{}, fmt.Errorf("question %q: %w", q.ID, ErrQuestionLocked)
		}
	}
	if q.CreatedAt == 0 {
		q.CreatedAt = s.now().Unix()
	}
	if err := s.store.PutQuestion(ctx, q); err != nil {
		return Question{}, err
	}
	return q, nil
}

func validateQuestion(q *Question) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("question text required: %w", ErrInvalidExam)
	}
	if q.Marks < 0 {
		return fmt.Errorf("marks must not be negative: %w", ErrInvalidExam)
	}
	if q.Status == "" {
		q.Status = QuestionActive
	}
	switch q.Type {
	case TypeMultipleChoice, TypeTrueFalse:
		correct := 0
		for i := range q.Options {
			if q.Options[i].ID == "" {
				q.Options[i].ID = fmt.Sprintf("opt-%d", i+1)
			}
			if q.Options[i].IsCorrect {
				correct++
			}
		}
		if len(q.Options) < 2 || correct == 0 {
			return fmt.Errorf("%s needs at least two options and one correct: %w", q.Type, ErrInvalidExam)
		}
	case TypeShortAnswer:
		if strings.TrimSpace(q.CanonicalAnswer) == "" {
			return fmt.Errorf("short-answer needs a canonical answer: %w", ErrInvalidExam)
		}
	default:
		return fmt.Errorf("unknown question type %q: %w", q.Type, ErrInvalidExam)
	}
	return nil
}

// StartSession draws a fresh question set for userID.
func (s *Service) StartSession(ctx context.Context, examID, userID string) (Session, error) {
	sess, err := s.session.Start(ctx, examID, userID, s.now())
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Str("user_id", userID).Msg("session rejected")
		return Session{}, err
	}
	s.log.Info().
		Str("exam_id", examID).
		Str("user_id", userID).
		Str("session_id", sess.ID).
		Int("questions", len(sess.QuestionIDs)).
		Time("expires_at", sess.ExpiresAt).
		Msg("session started")
	return sess, nil
}

// Submit grades in.Answers against the session's questions as currently
// stored and records the result. Nothing the client sends besides the
// answer text is used.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Result, error) {
	res, err := s.submit(ctx, in)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", in.ExamID).Str("user_id", in.UserID).Msg("submission rejected")
		return Result{}, err
	}
	s.log.Info().
		Str("exam_id", res.ExamID).
		Str("user_id", res.UserID).
		Str("result_id", res.ID).
		Int("attempt", res.AttemptNumber).
		Float64("percentage", res.Percentage).
		Bool("passed", res.IsPassed).
		Msg("submission graded")
	return res, nil
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (Result, error) {
	now := s.now()

	e, err := s.store.GetExam(ctx, in.ExamID)
	if err != nil {
		return Result{}, err
	}
	if err := s.ledger.CheckCeiling(ctx, in.UserID, e); err != nil {
		return Result{}, err
	}
	sess, err := s.resolveSession(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if now.After(sess.ExpiresAt.Add(e.Grace())) {
		return Result{}, fmt.Errorf("session %q expired at %s: %w", sess.ID, sess.ExpiresAt.Format(time.RFC3339), ErrSubmissionWindowExpired)
	}
	if !e.InWindow(now) {
		return Result{}, fmt.Errorf("exam %q: %w", e.ID, ErrExamWindowClosed)
	}

	questions, err := s.store.GetQuestions(ctx, sess.QuestionIDs)
	if err != nil {
		return Result{}, err
	}
	items, err := gradingItems(sess.QuestionIDs, questions)
	if err != nil {
		return Result{}, err
	}

	answers := make(map[string]string, len(in.Answers))
	for _, a := range in.Answers {
		if _, dup := answers[a.QuestionID]; !dup {
			answers[a.QuestionID] = a.Answer
		}
	}
	graded := s.engine.Grade(items, answers, grading.Policy{
		NegativeMarks:     e.NegativeMarks,
		PassingPercentage: e.PassingPercentage,
	})

	r := Result{
		ID:            uuid.NewString(),
		ExamID:        e.ID,
		UserID:        in.UserID,
		SessionID:     sess.ID,
		Answers:       make([]AnswerRecord, 0, len(graded.Outcomes)),
		TotalMarks:    graded.TotalMarks,
		ObtainedMarks: graded.ObtainedMarks,
		Percentage:    graded.Percentage,
		IsPassed:      graded.IsPassed,
		Rating:        graded.Rating,
		StartTime:     sess.StartedAt,
		EndTime:       now,
		SubmittedAt:   now,
	}
	for _, o := range graded.Outcomes {
		r.Answers = append(r.Answers, AnswerRecord{
			QuestionID:      o.QuestionID,
			SubmittedAnswer: o.Submitted,
			IsCorrect:       o.IsCorrect,
			Marks:           o.Marks,
		})
	}
	return s.ledger.RecordResult(ctx, r, e.MaxAttempts)
}

func (s *Service) resolveSession(ctx context.Context, in SubmitInput) (Session, error) {
	if in.SessionID == "" {
		return s.store.LatestOpenSession(ctx, in.UserID, in.ExamID)
	}
	sess, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != in.UserID || sess.ExamID != in.ExamID {
		return Session{}, fmt.Errorf("session %q: %w", in.SessionID, ErrSessionNotFound)
	}
	return sess, nil
}

// gradingItems keeps the drawn order and fails if a drawn question vanished.
func gradingItems(ids []string, questions []Question) ([]grading.Item, error) {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	items := make([]grading.Item, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("drawn question %q: %w", id, ErrNotFound)
		}
		it := grading.Item{
			QuestionID:      q.ID,
			Type:            string(q.Type),
			Marks:           q.Marks,
			CanonicalAnswer: q.CanonicalAnswer,
		}
		for _, o := range q.Options {
			it.Choices = append(it.Choices, grading.Choice{ID: o.ID, Text: o.Text, Correct: o.IsCorrect})
		}
		items = append(items, it)
	}
	return items, nil
}

// GetResult returns a result to its owner or to a requester with elevated access.
func (s *Service) GetResult(ctx context.Context, resultID, requesterID string) (Result, error) {
	r, err := s.store.GetResult(ctx, resultID)
	if err != nil {
		return Result{}, err
	}
	if requesterID != "" && r.UserID == requesterID {
		return r, nil
	}
	if err := s.requireElevated(ctx, requesterID); err != nil {
		return Result{}, err
	}
	return r, nil
}

// ListMyResults returns userID's results, newest first.
func (s *Service) ListMyResults(ctx context.Context, userID string, limit, offset int) ([]Result, error) {
	return s.store.ListResults(ctx, ResultListOpts{UserID: userID, Limit: limit, Offset: offset})
}

// ListResults lists across users and is reserved for elevated requesters.
func (s *Service) ListResults(ctx context.Context, opts ResultListOpts, requesterID string) ([]Result, error) {
	if err := s.requireElevated(ctx, requesterID); err != nil {
		return nil, err
	}
	return s.store.ListResults(ctx, opts)
}

func (s *Service) requireElevated(ctx context.Context, requesterID string) error {
	if s.authz == nil {
		return ErrForbidden
	}
	ok, err := s.authz.CanViewAllResults(ctx, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
