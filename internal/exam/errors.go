package exam

import "errors"

var (
	ErrInsufficientPool        = errors.New("not enough questions in the pool")
	ErrAttemptsExhausted       = errors.New("max attempts reached")
	ErrExamWindowClosed        = errors.New("exam is outside its time window")
	ErrExamNotAvailable        = errors.New("exam is not available")
	ErrSubmissionWindowExpired = errors.New("submission window expired")
	ErrStoreUnavailable        = errors.New("store unavailable")

	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrSessionNotFound  = errors.New("no open session for exam")
	ErrSessionSubmitted = errors.New("session already submitted")
	ErrQuestionLocked   = errors.New("question is referenced by a submitted result")
	ErrInvalidExam      = errors.New("invalid exam")

	// ErrAttemptConflict means another submission took the same attempt number.
	// The ledger retries on it; callers never see it.
	ErrAttemptConflict = errors.New("attempt number conflict")
)

type ErrorKind string

const (
	KindConfig         ErrorKind = "config"
	KindBusinessRule   ErrorKind = "business_rule"
	KindNotFound       ErrorKind = "not_found"
	KindForbidden      ErrorKind = "forbidden"
	KindInvalid        ErrorKind = "invalid"
	KindInfrastructure ErrorKind = "infrastructure"
	KindInternal       ErrorKind = "internal"
)

// Kind classifies err for callers without losing the wrapped sentinel.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientPool):
		return KindConfig
	case errors.Is(err, ErrAttemptsExhausted),
		errors.Is(err, ErrExamWindowClosed),
		errors.Is(err, ErrExamNotAvailable),
		errors.Is(err, ErrSubmissionWindowExpired),
		errors.Is(err, ErrQuestionLocked),
		errors.Is(err, ErrSessionSubmitted):
		return KindBusinessRule
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidExam):
		return KindInvalid
	case errors.Is(err, ErrStoreUnavailable):
		return KindInfrastructure
	default:
		return KindInternal
	}
}
