package grading

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	TypeMultipleChoice = "multiple-choice"
	TypeTrueFalse      = "true-false"
	TypeShortAnswer    = "short-answer"
)

type Choice struct {
	ID      string
	Text    string
	Correct bool
}

// Item is the view of a question needed for grading. It must be built from
// the stored record, never from what was sent to the student.
type Item struct {
	QuestionID      string
	Type            string
	Marks           float64
	Choices         []Choice
	CanonicalAnswer string
}

// Policy carries the per-exam knobs that affect a grade.
type Policy struct {
	NegativeMarks     float64
	PassingPercentage float64
}

// Outcome is the grade of a single drawn question.
type Outcome struct {
	QuestionID string
	Submitted  string
	Answered   bool
	IsCorrect  bool
	Marks      float64 // negative when a penalty applied
}

type GradedResult struct {
	Outcomes      []Outcome
	TotalMarks    float64
	ObtainedMarks float64
	Percentage    float64
	IsPassed      bool
	Rating        string
}

// Strategy decides correctness of one response for one question type.
type Strategy interface {
	Correct(q Item, response string) bool
}

type Option func(*config)

type config struct {
	ratings Ratings
}

func WithRatings(r Ratings) Option { return func(c *config) { c.ratings = r } }

// Engine grades a drawn question set. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	strategies map[string]Strategy
	ratings    Ratings
}

func NewEngine(opts ...Option) *Engine {
	cfg := &config{ratings: DefaultRatings()}
	for _, o := range opts {
		o(cfg)
	}
	return &Engine{
		strategies: map[string]Strategy{
			TypeMultipleChoice: choiceStrategy{},
			TypeTrueFalse:      choiceStrategy{},
			TypeShortAnswer:    shortAnswerStrategy{},
		},
		ratings: cfg.ratings,
	}
}

// Grade scores answers (question ID -> response) against items. A missing or
// blank response counts as unanswered: zero marks and no penalty. Grade never
// fails; a question of unknown type earns nothing and costs nothing.
func (g *Engine) Grade(items []Item, answers map[string]string, p Policy) GradedResult {
	res := GradedResult{Outcomes: make([]Outcome, 0, len(items))}
	total := decimal.Zero
	obtained := decimal.Zero
	penalty := decimal.NewFromFloat(p.NegativeMarks)

	for _, it := range items {
		marks := decimal.NewFromFloat(it.Marks)
		total = total.Add(marks)

		resp := strings.TrimSpace(answers[it.QuestionID])
		out := Outcome{QuestionID: it.QuestionID, Submitted: resp}
		if resp == "" {
			res.Outcomes = append(res.Outcomes, out)
			continue
		}
		out.Answered = true
		s, ok := g.strategies[it.Type]
		switch {
		case !ok:
		case s.Correct(it, resp):
			out.IsCorrect = true
			out.Marks = it.Marks
			obtained = obtained.Add(marks)
		case p.NegativeMarks > 0:
			out.Marks = -p.NegativeMarks
			obtained = obtained.Sub(penalty)
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	// clamp the total, not the individual questions
	if obtained.IsNegative() {
		obtained = decimal.Zero
	}
	res.TotalMarks = total.InexactFloat64()
	res.ObtainedMarks = obtained.InexactFloat64()

	if total.IsPositive() {
		pct := obtained.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
		res.Percentage = pct.InexactFloat64()
		res.IsPassed = pct.GreaterThanOrEqual(decimal.NewFromFloat(p.PassingPercentage))
	}
	res.Rating = g.ratings.Rate(res.Percentage)
	return res
}

// --- Strategies ---

// choiceStrategy accepts the ID of a correct option, or its exact text.
type choiceStrategy struct{}

func (choiceStrategy) Correct(q Item, response string) bool {
	for _, c := range q.Choices {
		if c.ID != "" && c.ID == response {
			return c.Correct
		}
	}
	for _, c := range q.Choices {
		if c.Text == response {
			return c.Correct
		}
	}
	return false
}

type shortAnswerStrategy struct{}

func (shortAnswerStrategy) Correct(q Item, response string) bool {
	key := normalize(q.CanonicalAnswer)
	return key != "" && key == normalize(response)
}
