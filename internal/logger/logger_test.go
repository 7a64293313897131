package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/mind-engage/mindengage-exams/internal/logger"
)

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Config{Level: "WARN", Output: &buf})

	l.Info().Msg("dropped")
	l.Warn().Str("exam_id", "e1").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["level"] != "warn" || rec["exam_id"] != "e1" || rec["message"] != "kept" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Config{Level: "chatty", Output: &buf})
	l.Debug().Msg("hidden")
	l.Info().Msg("shown")
	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("unexpected output %s", buf.String())
	}
}
