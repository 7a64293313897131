package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// SQLiteDSN builds a file DSN for path. Write transactions take the
// reserved lock up front so concurrent writers queue on busy_timeout.
func SQLiteDSN(path string) string {
	return "file:" + path + "?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = SQLiteDSN("exams.db")
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/exams?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// every new connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Times are unix milliseconds; 0 means unset.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  question_pool_json TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  max_attempts INTEGER NOT NULL,
  duration_per_question_sec INTEGER NOT NULL,
  duration_sec INTEGER NOT NULL,
  passing_percentage REAL NOT NULL DEFAULT 0,
  negative_marks REAL NOT NULL DEFAULT 0,
  shuffle_options BOOLEAN NOT NULL DEFAULT 0,
  grace_sec INTEGER NOT NULL DEFAULT 0,
  created_by TEXT NOT NULL DEFAULT '',
  start_time INTEGER NOT NULL DEFAULT 0,
  end_time INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  type TEXT NOT NULL,
  options_json TEXT NOT NULL,
  marks REAL NOT NULL,
  canonical_answer TEXT NOT NULL DEFAULT '',
  explanation TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_sessions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  question_ids_json TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS exam_sessions_user_exam ON exam_sessions (user_id, exam_id, started_at);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id),
  user_id TEXT NOT NULL,
  session_id TEXT NOT NULL REFERENCES exam_sessions(id),
  attempt_number INTEGER NOT NULL,
  total_marks REAL NOT NULL,
  obtained_marks REAL NOT NULL,
  percentage REAL NOT NULL,
  is_passed BOOLEAN NOT NULL,
  rating TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  end_time INTEGER NOT NULL,
  submitted_at INTEGER NOT NULL,
  CONSTRAINT results_attempt_uniq UNIQUE (exam_id, user_id, attempt_number),
  CONSTRAINT results_session_uniq UNIQUE (session_id)
);

CREATE TABLE IF NOT EXISTS result_answers (
  result_id TEXT NOT NULL REFERENCES results(id),
  position INTEGER NOT NULL,
  question_id TEXT NOT NULL,
  submitted_answer TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL,
  marks REAL NOT NULL,
  PRIMARY KEY (result_id, position)
);
CREATE INDEX IF NOT EXISTS result_answers_question ON result_answers (question_id);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                     -- e.g., AttemptSubmitted
  key TEXT NOT NULL,                     -- natural key: result ID
  data TEXT NOT NULL,                    -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  question_pool_json TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  max_attempts INTEGER NOT NULL,
  duration_per_question_sec INTEGER NOT NULL,
  duration_sec INTEGER NOT NULL,
  passing_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  negative_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
  shuffle_options BOOLEAN NOT NULL DEFAULT FALSE,
  grace_sec INTEGER NOT NULL DEFAULT 0,
  created_by TEXT NOT NULL DEFAULT '',
  start_time BIGINT NOT NULL DEFAULT 0,
  end_time BIGINT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  type TEXT NOT NULL,
  options_json TEXT NOT NULL,
  marks DOUBLE PRECISION NOT NULL,
  canonical_answer TEXT NOT NULL DEFAULT '',
  explanation TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  created_by TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_sessions (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  question_ids_json TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  expires_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS exam_sessions_user_exam ON exam_sessions (user_id, exam_id, started_at);

CREATE TABLE IF NOT EXISTS results (
  id TEXT PRIMARY KEY,
  exam_id TEXT NOT NULL REFERENCES exams(id),
  user_id TEXT NOT NULL,
  session_id TEXT NOT NULL REFERENCES exam_sessions(id),
  attempt_number INTEGER NOT NULL,
  total_marks DOUBLE PRECISION NOT NULL,
  obtained_marks DOUBLE PRECISION NOT NULL,
  percentage DOUBLE PRECISION NOT NULL,
  is_passed BOOLEAN NOT NULL,
  rating TEXT NOT NULL,
  start_time BIGINT NOT NULL,
  end_time BIGINT NOT NULL,
  submitted_at BIGINT NOT NULL,
  CONSTRAINT results_attempt_uniq UNIQUE (exam_id, user_id, attempt_number),
  CONSTRAINT results_session_uniq UNIQUE (session_id)
);

CREATE TABLE IF NOT EXISTS result_answers (
  result_id TEXT NOT NULL REFERENCES results(id),
  position INTEGER NOT NULL,
  question_id TEXT NOT NULL,
  submitted_answer TEXT NOT NULL,
  is_correct BOOLEAN NOT NULL,
  marks DOUBLE PRECISION NOT NULL,
  PRIMARY KEY (result_id, position)
);
CREATE INDEX IF NOT EXISTS result_answers_question ON result_answers (question_id);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
