package exam

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExamSession assembles the question set of one attempt.
type ExamSession struct {
	store  Store
	ledger *AttemptLedger
	pool   *QuestionPool
}

func NewExamSession(store Store, ledger *AttemptLedger, pool *QuestionPool) *ExamSession {
	return &ExamSession{store: store, ledger: ledger, pool: pool}
}

// Start loads the exam, checks availability, window and ceiling, then draws
// TotalQuestions active questions from its pool. The returned session only
// carries scrubbed questions.
func (s *ExamSession) Start(ctx context.Context, examID, userID string, now time.Time) (Session, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return Session{}, err
	}
	if e.Status != StatusPublished {
		return Session{}, fmt.Errorf("exam %q is %s: %w", e.ID, e.Status, ErrExamNotAvailable)
	}
	if !e.InWindow(now) {
		return Session{}, fmt.Errorf("exam %q at %s: %w", e.ID, now.Format(time.RFC3339), ErrExamWindowClosed)
	}
	if err := s.ledger.CheckCeiling(ctx, userID, e); err != nil {
		return Session{}, err
	}

	all, err := s.store.GetQuestions(ctx, e.QuestionPool)
	if err != nil {
		return Session{}, err
	}
	byID := make(map[string]Question, len(all))
	eligible := make([]string, 0, len(all))
	for _, q := range all {
		if !q.Active() {
			continue
		}
		byID[q.ID] = q
		eligible = append(eligible, q.ID)
	}

	drawn, err := s.pool.Sample(eligible, e.TotalQuestions)
	if err != nil {
		return Session{}, fmt.Errorf("exam %q: %w", e.ID, err)
	}

	sess := Session{
		ID:          uuid.NewString(),
		ExamID:      e.ID,
		UserID:      userID,
		QuestionIDs: drawn,
		Questions:   make([]PublicQuestion, 0, len(drawn)),
		StartedAt:   now,
		ExpiresAt:   now.Add(e.Duration()),
	}
	for _, id := range drawn {
		pq := byID[id].Public()
		if e.ShuffleOptions && len(pq.Options) > 1 {
			pq.Options = s.pool.ShuffleOptions(pq.Options)
		}
		sess.Questions = append(sess.Questions, pq)
	}

	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}
