package exam

import (
	"context"
	"errors"
	"fmt"
)

// AttemptLedger counts attempts per (user, exam) and records results
// against the attempt ceiling.
type AttemptLedger struct {
	store      Store
	maxRetries int
}

func NewAttemptLedger(store Store, maxRetries int) *AttemptLedger {
	if maxRetries <= 0 {
		maxRetries = DefaultSettings().MaxRecordRetries
	}
	return &AttemptLedger{store: store, maxRetries: maxRetries}
}

func (l *AttemptLedger) CountAttempts(ctx context.Context, userID, examID string) (int, error) {
	return l.store.CountResults(ctx, userID, examID)
}

func (l *AttemptLedger) NextAttemptNumber(ctx context.Context, userID, examID string) (int, error) {
	n, err := l.CountAttempts(ctx, userID, examID)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// CheckCeiling fails with ErrAttemptsExhausted once the user has used every attempt.
func (l *AttemptLedger) CheckCeiling(ctx context.Context, userID string, e Exam) error {
	n, err := l.CountAttempts(ctx, userID, e.ID)
	if err != nil {
		return err
	}
	if n >= e.MaxAttempts {
		return fmt.Errorf("%d of %d attempts used: %w", n, e.MaxAttempts, ErrAttemptsExhausted)
	}
	return nil
}

// RecordResult persists r with the next attempt number. The store assigns the
// number inside its conditional insert; on a lost race the insert is retried
// and the ceiling re-evaluated. Any other failure is returned as-is.
func (l *AttemptLedger) RecordResult(ctx context.Context, r Result, maxAttempts int) (Result, error) {
	for i := 0; i < l.maxRetries; i++ {
		saved, err := l.store.InsertResultBelowCeiling(ctx, r, maxAttempts)
		switch {
		case err == nil:
			return saved, nil
		case errors.Is(err, ErrAttemptConflict):
			continue
		default:
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("gave up after %d conflicting inserts: %w", l.maxRetries, ErrAttemptsExhausted)
}
