package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	events *syncx.EventRepo
	qb     sq.StatementBuilderType
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		events: syncx.NewEventRepo(db, ""),
		qb:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Events exposes the audit log written alongside sessions and results.
func (s *SQLStore) Events() *syncx.EventRepo { return s.events }

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	e.recalcDuration()
	pool, err := json.Marshal(e.QuestionPool)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams (id,title,question_pool_json,total_questions,max_attempts,
			duration_per_question_sec,duration_sec,passing_percentage,negative_marks,shuffle_options,grace_sec,
			created_by,start_time,end_time,status,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, question_pool_json=EXCLUDED.question_pool_json,
			total_questions=EXCLUDED.total_questions, max_attempts=EXCLUDED.max_attempts,
			duration_per_question_sec=EXCLUDED.duration_per_question_sec, duration_sec=EXCLUDED.duration_sec,
			passing_percentage=EXCLUDED.passing_percentage, negative_marks=EXCLUDED.negative_marks,
			shuffle_options=EXCLUDED.shuffle_options, grace_sec=EXCLUDED.grace_sec,
			start_time=EXCLUDED.start_time, end_time=EXCLUDED.end_time, status=EXCLUDED.status`,
		e.ID, e.Title, string(pool), e.TotalQuestions, e.MaxAttempts,
		e.DurationPerQuestionSec, e.DurationSec, e.PassingPercentage, e.NegativeMarks, e.ShuffleOptions, e.GraceSec,
		e.CreatedBy, toMillis(e.StartTime), toMillis(e.EndTime), string(e.Status), e.CreatedAt)
	return storeErr(err)
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,question_pool_json,total_questions,max_attempts,
			duration_per_question_sec,duration_sec,passing_percentage,negative_marks,shuffle_options,grace_sec,
			created_by,start_time,end_time,status,created_at
		FROM exams WHERE id=$1`, id)
	var (
		e          Exam
		pool       string
		start, end int64
		status     string
	)
	if err := row.Scan(&e.ID, &e.Title, &pool, &e.TotalQuestions, &e.MaxAttempts,
		&e.DurationPerQuestionSec, &e.DurationSec, &e.PassingPercentage, &e.NegativeMarks, &e.ShuffleOptions, &e.GraceSec,
		&e.CreatedBy, &start, &end, &status, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, fmt.Errorf("exam %q: %w", id, ErrNotFound)
		}
		return Exam{}, storeErr(err)
	}
	if err := json.Unmarshal([]byte(pool), &e.QuestionPool); err != nil {
		return Exam{}, err
	}
	e.StartTime, e.EndTime, e.Status = fromMillis(start), fromMillis(end), ExamStatus(status)
	return e, nil
}

// PutQuestion upserts q unless a result already references it. The check and
// the write share a transaction.
func (s *SQLStore) PutQuestion(ctx context.Context, q Question) error {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	locked, err := questionLocked(ctx, tx, q.ID)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("question %q: %w", q.ID, ErrQuestionLocked)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO questions (id,exam_id,text,type,options_json,marks,canonical_answer,
			explanation,status,created_by,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET exam_id=EXCLUDED.exam_id, text=EXCLUDED.text, type=EXCLUDED.type,
			options_json=EXCLUDED.options_json, marks=EXCLUDED.marks, canonical_answer=EXCLUDED.canonical_answer,
			explanation=EXCLUDED.explanation, status=EXCLUDED.status`,
		q.ID, q.ExamID, q.Text, string(q.Type), string(opts), q.Marks, q.CanonicalAnswer,
		q.Explanation, string(q.Status), q.CreatedBy, q.CreatedAt)
	if err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

func (s *SQLStore) GetQuestions(ctx context.Context, ids []string) ([]Question, error) {
	if len(ids) == 0 {
		return []Question{}, nil
	}
	query, args, err := s.qb.
		Select("id", "exam_id", "text", "type", "options_json", "marks", "canonical_answer",
			"explanation", "status", "created_by", "created_at").
		From("questions").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	byID := make(map[string]Question, len(ids))
	for rows.Next() {
		var (
			q          Question
			typ, stat  string
			optionJSON string
		)
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Text, &typ, &optionJSON, &q.Marks, &q.CanonicalAnswer,
			&q.Explanation, &stat, &q.CreatedBy, &q.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		if err := json.Unmarshal([]byte(optionJSON), &q.Options); err != nil {
			return nil, err
		}
		q.Type, q.Status = QuestionType(typ), QuestionStatus(stat)
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	// keep the caller's order
	out := make([]Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *SQLStore) QuestionLocked(ctx context.Context, questionID string) (bool, error) {
	return questionLocked(ctx, s.db, questionID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func questionLocked(ctx context.Context, q queryer, questionID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM result_answers WHERE question_id=$1`, questionID).Scan(&n)
	if err != nil {
		return false, storeErr(err)
	}
	return n > 0, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	ids, err := json.Marshal(sess.QuestionIDs)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO exam_sessions (id,exam_id,user_id,question_ids_json,started_at,expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		sess.ID, sess.ExamID, sess.UserID, string(ids), toMillis(sess.StartedAt), toMillis(sess.ExpiresAt)); err != nil {
		return storeErr(err)
	}
	data, _ := json.Marshal(map[string]any{
		"exam_id": sess.ExamID, "user_id": sess.UserID, "questions": len(sess.QuestionIDs),
	})
	if err := s.events.AppendTx(ctx, tx, syncx.Event{
		Type: syncx.TypeSessionStarted, Key: sess.ID, DataJSON: string(data),
	}); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit())
}

const sessionCols = `id,exam_id,user_id,question_ids_json,started_at,expires_at`

func scanSession(row *sql.Row) (Session, error) {
	var (
		sess             Session
		ids              string
		started, expires int64
	)
	if err := row.Scan(&sess.ID, &sess.ExamID, &sess.UserID, &ids, &started, &expires); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(ids), &sess.QuestionIDs); err != nil {
		return Session{}, err
	}
	sess.StartedAt, sess.ExpiresAt = fromMillis(started), fromMillis(expires)
	return sess, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM exam_sessions WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return sess, storeErr(err)
}

func (s *SQLStore) LatestOpenSession(ctx context.Context, userID, examID string) (Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM exam_sessions es
		WHERE es.user_id=$1 AND es.exam_id=$2
		  AND NOT EXISTS (SELECT 1 FROM results r WHERE r.session_id = es.id)
		ORDER BY es.started_at DESC, es.id DESC
		LIMIT 1`, userID, examID))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return sess, storeErr(err)
}

func (s *SQLStore) CountResults(ctx context.Context, userID, examID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE user_id=$1 AND exam_id=$2`, userID, examID).Scan(&n)
	return n, storeErr(err)
}

// InsertResultBelowCeiling assigns the attempt number and inserts r in one
// statement that matches no rows once maxAttempts results exist. A racing
// writer that got the same number surfaces as ErrAttemptConflict.
func (s *SQLStore) InsertResultBelowCeiling(ctx context.Context, r Result, maxAttempts int) (Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, storeErr(err)
	}
	defer tx.Rollback()

	var used int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE session_id=$1`, r.SessionID).Scan(&used); err != nil {
		return Result{}, storeErr(err)
	}
	if used > 0 {
		return Result{}, fmt.Errorf("session %q: %w", r.SessionID, ErrSessionSubmitted)
	}

	var attempt int
	err = tx.QueryRowContext(ctx, `INSERT INTO results (id,exam_id,user_id,session_id,attempt_number,total_marks,
			obtained_marks,percentage,is_passed,rating,start_time,end_time,submitted_at)
		SELECT CAST($1 AS TEXT), CAST($2 AS TEXT), CAST($3 AS TEXT), CAST($4 AS TEXT), c.n + 1,
			CAST($5 AS DOUBLE PRECISION), CAST($6 AS DOUBLE PRECISION), CAST($7 AS DOUBLE PRECISION),
			CAST($8 AS BOOLEAN), CAST($9 AS TEXT), CAST($10 AS BIGINT), CAST($11 AS BIGINT), CAST($12 AS BIGINT)
		FROM (SELECT COUNT(*) AS n FROM results WHERE exam_id=$2 AND user_id=$3) c
		WHERE c.n < $13
		RETURNING attempt_number`,
		r.ID, r.ExamID, r.UserID, r.SessionID,
		r.TotalMarks, r.ObtainedMarks, r.Percentage, r.IsPassed, r.Rating,
		toMillis(r.StartTime), toMillis(r.EndTime), toMillis(r.SubmittedAt), maxAttempts,
	).Scan(&attempt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Result{}, ErrAttemptsExhausted
	case err != nil:
		return Result{}, insertErr(err, r.SessionID)
	}
	r.AttemptNumber = attempt

	for i, a := range r.Answers {
		if _, err := tx.ExecContext(ctx, `INSERT INTO result_answers (result_id,position,question_id,submitted_answer,is_correct,marks)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			r.ID, i, a.QuestionID, a.SubmittedAnswer, a.IsCorrect, a.Marks); err != nil {
			return Result{}, storeErr(err)
		}
	}

	data, _ := json.Marshal(map[string]any{
		"exam_id": r.ExamID, "user_id": r.UserID, "session_id": r.SessionID,
		"attempt": r.AttemptNumber, "percentage": r.Percentage, "passed": r.IsPassed,
	})
	if err := s.events.AppendTx(ctx, tx, syncx.Event{
		Type: syncx.TypeAttemptSubmitted, Key: r.ID, DataJSON: string(data),
	}); err != nil {
		return Result{}, storeErr(err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, insertErr(err, r.SessionID)
	}
	return r, nil
}

var resultCols = []string{
	"id", "exam_id", "user_id", "session_id", "attempt_number", "total_marks", "obtained_marks",
	"percentage", "is_passed", "rating", "start_time", "end_time", "submitted_at",
}

func (s *SQLStore) GetResult(ctx context.Context, id string) (Result, error) {
	out, err := s.queryResults(ctx, s.qb.Select(resultCols...).From("results").Where(sq.Eq{"id": id}))
	if err != nil {
		return Result{}, err
	}
	if len(out) == 0 {
		return Result{}, fmt.Errorf("result %q: %w", id, ErrNotFound)
	}
	return out[0], nil
}

func (s *SQLStore) ListResults(ctx context.Context, opts ResultListOpts) ([]Result, error) {
	q := s.qb.Select(resultCols...).From("results").OrderBy("submitted_at DESC", "attempt_number DESC")
	if opts.ExamID != "" {
		q = q.Where(sq.Eq{"exam_id": opts.ExamID})
	}
	if opts.UserID != "" {
		q = q.Where(sq.Eq{"user_id": opts.UserID})
	}
	switch {
	case opts.Limit > 0:
		q = q.Limit(uint64(opts.Limit))
	case opts.Offset > 0:
		// sqlite only accepts OFFSET after a LIMIT
		q = q.Limit(math.MaxInt32)
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}
	return s.queryResults(ctx, q)
}

func (s *SQLStore) queryResults(ctx context.Context, b sq.SelectBuilder) ([]Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	out := make([]Result, 0)
	for rows.Next() {
		var (
			r                     Result
			start, end, submitted int64
		)
		if err := rows.Scan(&r.ID, &r.ExamID, &r.UserID, &r.SessionID, &r.AttemptNumber, &r.TotalMarks,
			&r.ObtainedMarks, &r.Percentage, &r.IsPassed, &r.Rating, &start, &end, &submitted); err != nil {
			return nil, storeErr(err)
		}
		r.StartTime, r.EndTime, r.SubmittedAt = fromMillis(start), fromMillis(end), fromMillis(submitted)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.loadAnswers(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) loadAnswers(ctx context.Context, results []Result) error {
	ids := make([]string, len(results))
	idx := make(map[string]int, len(results))
	for i, r := range results {
		ids[i] = r.ID
		idx[r.ID] = i
		results[i].Answers = []AnswerRecord{}
	}
	query, args, err := s.qb.
		Select("result_id", "question_id", "submitted_answer", "is_correct", "marks").
		From("result_answers").
		Where(sq.Eq{"result_id": ids}).
		OrderBy("result_id", "position").
		ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storeErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			resultID string
			a        AnswerRecord
		)
		if err := rows.Scan(&resultID, &a.QuestionID, &a.SubmittedAnswer, &a.IsCorrect, &a.Marks); err != nil {
			return storeErr(err)
		}
		i := idx[resultID]
		results[i].Answers = append(results[i].Answers, a)
	}
	return storeErr(rows.Err())
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// storeErr tags driver failures as ErrStoreUnavailable. Context errors pass
// through untouched.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// insertErr maps unique violations on results to domain errors.
func insertErr(err error, sessionID string) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return storeErr(err)
	}
	if strings.Contains(constraint, "session") {
		return fmt.Errorf("session %q: %w", sessionID, ErrSessionSubmitted)
	}
	return ErrAttemptConflict
}

// uniqueViolation reports whether err is a unique-key violation and, when
// the driver says so, which constraint or column tripped it.
func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			// message reads "UNIQUE constraint failed: results.session_id"
			return liteErr.Error(), true
		}
	}
	return "", false
}
