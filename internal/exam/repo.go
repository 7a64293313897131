package exam

import "context"

type ResultListOpts struct {
	ExamID string
	UserID string
	Limit  int
	Offset int
}

// Store is the persistence boundary. Implementations wrap driver faults in
// ErrStoreUnavailable and return ErrNotFound for missing records.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)

	PutQuestion(ctx context.Context, q Question) error
	// GetQuestions returns the full records (answer data included) for ids,
	// skipping unknown ids. Order follows ids.
	GetQuestions(ctx context.Context, ids []string) ([]Question, error)
	// QuestionLocked reports whether any result references the question.
	QuestionLocked(ctx context.Context, questionID string) (bool, error)

	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	// LatestOpenSession returns the newest session for (user, exam) that no result references.
	LatestOpenSession(ctx context.Context, userID, examID string) (Session, error)

	CountResults(ctx context.Context, userID, examID string) (int, error)
	// InsertResultBelowCeiling atomically assigns AttemptNumber = count+1 and
	// inserts r only while count < maxAttempts. It returns ErrAttemptsExhausted
	// when the ceiling is reached and ErrAttemptConflict when a concurrent insert
	// claimed the same attempt number.
	InsertResultBelowCeiling(ctx context.Context, r Result, maxAttempts int) (Result, error)
	GetResult(ctx context.Context, id string) (Result, error)
	// ListResults returns newest first.
	ListResults(ctx context.Context, opts ResultListOpts) ([]Result, error)
}
