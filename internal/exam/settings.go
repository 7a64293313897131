package exam

import (
	"time"

	"github.com/mind-engage/mindengage-exams/internal/grading"
)

// Settings are the service-wide constants of the attempt lifecycle.
// MaxRecordRetries bounds re-tries of a result insert that lost an
// attempt-number race. ReadRetries and ReadBackoff bound re-tries of reads
// failing with ErrStoreUnavailable; writes are never re-tried.
type Settings struct {
	DefaultMaxAttempts int
	MaxRecordRetries   int
	ReadRetries        int
	ReadBackoff        time.Duration
	Ratings            grading.Ratings
}

func DefaultSettings() Settings {
	return Settings{
		DefaultMaxAttempts: 5,
		MaxRecordRetries:   3,
		ReadRetries:        3,
		ReadBackoff:        50 * time.Millisecond,
		Ratings:            grading.DefaultRatings(),
	}
}
