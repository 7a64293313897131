package exam

import "time"

type ExamStatus string

const (
	StatusDraft     ExamStatus = "draft"
	StatusPublished ExamStatus = "published"
	StatusCompleted ExamStatus = "completed"
)

type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple-choice"
	TypeTrueFalse      QuestionType = "true-false"
	TypeShortAnswer    QuestionType = "short-answer"
)

type QuestionStatus string

const (
	QuestionActive   QuestionStatus = "Active"
	QuestionInactive QuestionStatus = "Inactive"
)

type Exam struct {
	ID                     string     `json:"id"`
	Title                  string     `json:"title"`
	QuestionPool           []string   `json:"question_pool"` // question IDs eligible for drawing
	TotalQuestions         int        `json:"total_questions"`
	MaxAttempts            int        `json:"max_attempts"`
	DurationPerQuestionSec int        `json:"duration_per_question_sec"`
	DurationSec            int        `json:"duration_sec"` // derived, see recalcDuration
	PassingPercentage      float64    `json:"passing_percentage"`
	NegativeMarks          float64    `json:"negative_marks,omitempty"`
	ShuffleOptions         bool       `json:"shuffle_options,omitempty"`
	GraceSec               int        `json:"grace_sec,omitempty"`
	CreatedBy              string     `json:"created_by,omitempty"`
	StartTime              time.Time  `json:"start_time,omitempty"`
	EndTime                time.Time  `json:"end_time,omitempty"`
	Status                 ExamStatus `json:"status"`

	CreatedAt int64 `json:"created_at,omitempty"`
}

// recalcDuration must run before every save. DurationSec is never taken from input.
func (e *Exam) recalcDuration() {
	e.DurationSec = e.TotalQuestions * e.DurationPerQuestionSec
}

func (e Exam) Duration() time.Duration {
	return time.Duration(e.TotalQuestions*e.DurationPerQuestionSec) * time.Second
}

func (e Exam) Grace() time.Duration {
	return time.Duration(e.GraceSec) * time.Second
}

// InWindow reports whether now falls inside [StartTime, EndTime]. A zero bound is open.
func (e Exam) InWindow(now time.Time) bool {
	if !e.StartTime.IsZero() && now.Before(e.StartTime) {
		return false
	}
	if !e.EndTime.IsZero() && now.After(e.EndTime) {
		return false
	}
	return true
}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is the full internal record, answer data included.
// Never send it to a student; use Public().
type Question struct {
	ID              string         `json:"id"`
	ExamID          string         `json:"exam_id,omitempty"`
	Text            string         `json:"text"`
	Type            QuestionType   `json:"type"`
	Options         []Option       `json:"options,omitempty"`
	Marks           float64        `json:"marks"`
	CanonicalAnswer string         `json:"canonical_answer,omitempty"`
	Explanation     string         `json:"explanation,omitempty"`
	Status          QuestionStatus `json:"status"`
	CreatedBy       string         `json:"created_by,omitempty"`
	CreatedAt       int64          `json:"created_at,omitempty"`
}

func (q Question) Active() bool { return q.Status != QuestionInactive }

type PublicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PublicQuestion is the outbound view served during a session.
type PublicQuestion struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Type    QuestionType   `json:"type"`
	Options []PublicOption `json:"options,omitempty"`
	Marks   float64        `json:"marks"`
}

// Public builds the scrubbed projection. Correctness flags, the canonical
// answer and the explanation have no field to land in.
func (q Question) Public() PublicQuestion {
	pq := PublicQuestion{ID: q.ID, Text: q.Text, Type: q.Type, Marks: q.Marks}
	if len(q.Options) > 0 {
		pq.Options = make([]PublicOption, len(q.Options))
		for i, o := range q.Options {
			pq.Options[i] = PublicOption{ID: o.ID, Text: o.Text}
		}
	}
	return pq
}

type Session struct {
	ID          string           `json:"id"`
	ExamID      string           `json:"exam_id"`
	UserID      string           `json:"user_id"`
	QuestionIDs []string         `json:"-"`
	Questions   []PublicQuestion `json:"questions"`
	StartedAt   time.Time        `json:"started_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

type AnswerRecord struct {
	QuestionID      string  `json:"question_id"`
	SubmittedAnswer string  `json:"submitted_answer"`
	IsCorrect       bool    `json:"is_correct"`
	Marks           float64 `json:"marks"`
}

// Result is append-only: created once per attempt, never updated.
type Result struct {
	ID            string         `json:"id"`
	ExamID        string         `json:"exam_id"`
	UserID        string         `json:"user_id"`
	SessionID     string         `json:"session_id"`
	AttemptNumber int            `json:"attempt_number"`
	Answers       []AnswerRecord `json:"answers"`
	TotalMarks    float64        `json:"total_marks"`
	ObtainedMarks float64        `json:"obtained_marks"`
	Percentage    float64        `json:"percentage"`
	IsPassed      bool           `json:"is_passed"`
	Rating        string         `json:"rating"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	SubmittedAt   time.Time      `json:"submitted_at"`
}
