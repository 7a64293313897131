package exam

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryStore struct {
	mu         sync.RWMutex
	exams      map[string]Exam
	questions  map[string]Question
	sessions   map[string]Session
	results    map[string]Result
	sessionSeq map[string]int // creation order, for LatestOpenSession
	seq        int
}

// NewInMemoryStore returns a Store backed by process memory. The result
// ceiling check and insert happen under one lock, which makes the insert
// conditional in the same way the SQL store's single statement is.
func NewInMemoryStore() Store {
	return &memoryStore{
		exams:      map[string]Exam{},
		questions:  map[string]Question{},
		sessions:   map[string]Session{},
		results:    map[string]Result{},
		sessionSeq: map[string]int{},
	}
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.recalcDuration()
	e.QuestionPool = append([]string(nil), e.QuestionPool...)
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
	}
	e.QuestionPool = append([]string(nil), e.QuestionPool...)
	return e, nil
}

func (m *memoryStore) PutQuestion(_ context.Context, q Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockedLocked(q.ID) {
		return fmt.Errorf("question %q: %w", q.ID, ErrQuestionLocked)
	}
	q.Options = append([]Option(nil), q.Options...)
	m.questions[q.ID] = q
	return nil
}

func (m *memoryStore) GetQuestions(_ context.Context, ids []string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Question, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		q, ok := m.questions[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		q.Options = append([]Option(nil), q.Options...)
		out = append(out, q)
	}
	return out, nil
}

func (m *memoryStore) QuestionLocked(_ context.Context, questionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockedLocked(questionID), nil
}

func (m *memoryStore) lockedLocked(questionID string) bool {
	for _, r := range m.results {
		for _, a := range r.Answers {
			if a.QuestionID == questionID {
				return true
			}
		}
	}
	return false
}

func (m *memoryStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %q already exists", s.ID)
	}
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	s.Questions = nil
	m.seq++
	m.sessionSeq[s.ID] = m.seq
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	return s, nil
}

func (m *memoryStore) LatestOpenSession(_ context.Context, userID, examID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	used := map[string]bool{}
	for _, r := range m.results {
		used[r.SessionID] = true
	}
	var (
		best    Session
		bestSeq int
	)
	for id, s := range m.sessions {
		if s.UserID != userID || s.ExamID != examID || used[id] {
			continue
		}
		if seq := m.sessionSeq[id]; seq > bestSeq {
			best, bestSeq = s, seq
		}
	}
	if bestSeq == 0 {
		return Session{}, ErrSessionNotFound
	}
	best.QuestionIDs = append([]string(nil), best.QuestionIDs...)
	return best, nil
}

func (m *memoryStore) CountResults(_ context.Context, userID, examID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(userID, examID), nil
}

func (m *memoryStore) countLocked(userID, examID string) int {
	n := 0
	for _, r := range m.results {
		if r.UserID == userID && r.ExamID == examID {
			n++
		}
	}
	return n
}

func (m *memoryStore) InsertResultBelowCeiling(_ context.Context, r Result, maxAttempts int) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.countLocked(r.UserID, r.ExamID)
	if n >= maxAttempts {
		return Result{}, ErrAttemptsExhausted
	}
	for _, existing := range m.results {
		if r.SessionID != "" && existing.SessionID == r.SessionID {
			return Result{}, fmt.Errorf("session %q: %w", r.SessionID, ErrSessionSubmitted)
		}
	}
	if _, ok := m.results[r.ID]; ok {
		return Result{}, fmt.Errorf("result %q already exists", r.ID)
	}
	r.AttemptNumber = n + 1
	r.Answers = append([]AnswerRecord(nil), r.Answers...)
	m.results[r.ID] = r
	return r, nil
}

func (m *memoryStore) GetResult(_ context.Context, id string) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return Result{}, fmt.Errorf("result %q: %w", id, ErrNotFound)
	}
	r.Answers = append([]AnswerRecord(nil), r.Answers...)
	return r, nil
}

func (m *memoryStore) ListResults(_ context.Context, opts ResultListOpts) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Result, 0)
	for _, r := range m.results {
		if opts.ExamID != "" && r.ExamID != opts.ExamID {
			continue
		}
		if opts.UserID != "" && r.UserID != opts.UserID {
			continue
		}
		r.Answers = append([]AnswerRecord(nil), r.Answers...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].AttemptNumber > out[j].AttemptNumber
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []Result{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
