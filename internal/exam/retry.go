package exam

import (
	"context"
	"errors"
	"time"
)

// readRetryStore re-tries read operations that fail with ErrStoreUnavailable,
// doubling the pause between tries. Writes go straight through: a write that
// may have landed must not be repeated.
type readRetryStore struct {
	Store
	tries   int
	backoff time.Duration
}

func withReadRetry(s Store, tries int, backoff time.Duration) Store {
	if tries <= 1 {
		return s
	}
	return &readRetryStore{Store: s, tries: tries, backoff: backoff}
}

func retryRead[T any](ctx context.Context, r *readRetryStore, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	wait := r.backoff
	for i := 0; i < r.tries; i++ {
		v, err = fn()
		if err == nil || !errors.Is(err, ErrStoreUnavailable) {
			return v, err
		}
		if i == r.tries-1 {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return v, errors.Join(err, ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
	return v, err
}

func (r *readRetryStore) GetExam(ctx context.Context, id string) (Exam, error) {
	return retryRead(ctx, r, func() (Exam, error) { return r.Store.GetExam(ctx, id) })
}

func (r *readRetryStore) GetQuestions(ctx context.Context, ids []string) ([]Question, error) {
	return retryRead(ctx, r, func() ([]Question, error) { return r.Store.GetQuestions(ctx, ids) })
}

func (r *readRetryStore) QuestionLocked(ctx context.Context, questionID string) (bool, error) {
	return retryRead(ctx, r, func() (bool, error) { return r.Store.QuestionLocked(ctx, questionID) })
}

func (r *readRetryStore) GetSession(ctx context.Context, id string) (Session, error) {
	return retryRead(ctx, r, func() (Session, error) { return r.Store.GetSession(ctx, id) })
}

func (r *readRetryStore) LatestOpenSession(ctx context.Context, userID, examID string) (Session, error) {
	return retryRead(ctx, r, func() (Session, error) { return r.Store.LatestOpenSession(ctx, userID, examID) })
}

func (r *readRetryStore) CountResults(ctx context.Context, userID, examID string) (int, error) {
	return retryRead(ctx, r, func() (int, error) { return r.Store.CountResults(ctx, userID, examID) })
}

func (r *readRetryStore) GetResult(ctx context.Context, id string) (Result, error) {
	return retryRead(ctx, r, func() (Result, error) { return r.Store.GetResult(ctx, id) })
}

func (r *readRetryStore) ListResults(ctx context.Context, opts ResultListOpts) ([]Result, error) {
	return retryRead(ctx, r, func() ([]Result, error) { return r.Store.ListResults(ctx, opts) })
}
