package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/envutil"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// previewLimit bounds the payload preview stored with each event.
const previewLimit = 200

// Sink appends audit events as JSON lines. Writes are serialised; records
// are never rewritten.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	sync bool
	log  *logger.Logger
}

func NewFromEnv(log *logger.Logger) (*Sink, error) {
	path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH"))
	if path == "" {
		path = "audit.log"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Sink{
		f:    f,
		sync: envutil.Bool("AUDIT_FSYNC", false),
		log:  log.With("component", "AuditSink"),
	}, nil
}

// New wraps an already-open file; the caller keeps ownership of closing it
// via Close.
func New(f *os.File, log *logger.Logger) *Sink {
	return &Sink{f: f, log: log.With("component", "AuditSink")}
}

// Record appends one event and returns its generated id. A sink failure is
// logged and swallowed; auditing never fails a request.
func (s *Sink) Record(event types.AuditEvent) string {
	id := uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.PayloadPreview = Preview(event.PayloadPreview)

	line, err := json.Marshal(struct {
		AuditID string `json:"audit_id"`
		types.AuditEvent
	}{AuditID: id, AuditEvent: event})
	if err != nil {
		s.log.Error("failed to marshal audit event", "error", err)
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		s.log.Error("failed to append audit event", "error", err)
		return id
	}
	if s.sync {
		if err := s.f.Sync(); err != nil {
			s.log.Error("failed to fsync audit log", "error", err)
		}
	}
	return id
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Preview truncates payload text for storage in an audit record.
func Preview(payload string) string {
	payload = strings.TrimSpace(payload)
	if len(payload) <= previewLimit {
		return payload
	}
	return payload[:previewLimit]
}
