package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

func newSink(t *testing.T) (*Sink, string) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	path := filepath.Join(t.TempDir(), "audit.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := New(f, log)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestRecordAppendsJSONLines(t *testing.T) {
	s, path := newSink(t)

	id1 := s.Record(types.AuditEvent{TraceID: "t-1", Stage: "guardrail", Outcome: "passed"})
	id2 := s.Record(types.AuditEvent{TraceID: "t-1", Stage: "pipeline", Outcome: "blocked", ReasonCode: types.ReasonGuardrailBlocked})
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("audit ids must be unique and non-empty: %q %q", id1, id2)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var obj map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		lines = append(lines, obj)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["stage"] != "guardrail" || lines[1]["reason_code"] != types.ReasonGuardrailBlocked {
		t.Fatalf("unexpected records %v", lines)
	}
	if lines[0]["ts"] == nil {
		t.Fatalf("timestamp must be stamped when absent")
	}
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("x", previewLimit*2)
	if got := Preview(long); len(got) != previewLimit {
		t.Fatalf("preview length %d, want %d", len(got), previewLimit)
	}
	if got := Preview("  short  "); got != "short" {
		t.Fatalf("preview should trim whitespace, got %q", got)
	}
}
