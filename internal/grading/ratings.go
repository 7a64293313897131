package grading

const (
	RatingExcellent = "Excellent"
	RatingGood      = "Good"
	RatingPass      = "Pass"
	RatingFail      = "Fail"
)

// Ratings holds the percentage floors of the qualitative buckets. They are
// fixed for the whole service and never read from exam data.
type Ratings struct {
	Excellent float64
	Good      float64
	Pass      float64
}

func DefaultRatings() Ratings {
	return Ratings{Excellent: 90, Good: 75, Pass: 60}
}

func (r Ratings) Rate(pct float64) string {
	switch {
	case pct >= r.Excellent:
		return RatingExcellent
	case pct >= r.Good:
		return RatingGood
	case pct >= r.Pass:
		return RatingPass
	default:
		return RatingFail
	}
}
