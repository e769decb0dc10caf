package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/paladugusuresh/graphrag/internal/graphrag/pipeline"
	"github.com/paladugusuresh/graphrag/internal/graphrag/types"
	"github.com/paladugusuresh/graphrag/internal/platform/apierr"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

type stubProcessor struct {
	resp *pipeline.Response
	err  error
	got  pipeline.Request
}

func (s *stubProcessor) Process(_ context.Context, req pipeline.Request) (*pipeline.Response, error) {
	s.got = req
	return s.resp, s.err
}

func newQueryRouter(t *testing.T, p Processor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := gin.New()
	r.POST("/api/query", NewQueryHandler(p, log).Query)
	return r
}

func TestQueryReturnsPipelineResponse(t *testing.T) {
	p := &stubProcessor{resp: &pipeline.Response{
		Question: "What are the goals for Isabella Thomas?",
		Summary:  "One active goal.",
		TraceID:  "t-1",
	}}
	r := newQueryRouter(t, p)

	body := `{"question": "What are the goals for Isabella Thomas?"}`
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp pipeline.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Summary != "One active goal." {
		t.Fatalf("unexpected body %+v", resp)
	}
	if p.got.Question != "What are the goals for Isabella Thomas?" {
		t.Fatalf("request not forwarded: %+v", p.got)
	}
}

func TestQueryMapsReasonCodesToStatus(t *testing.T) {
	cases := map[string]int{
		types.ReasonGuardrailBlocked:  http.StatusForbidden,
		types.ReasonUnknownLabel:      http.StatusBadRequest,
		types.ReasonLLMRateLimited:    http.StatusTooManyRequests,
		types.ReasonQueryTimeout:      http.StatusGatewayTimeout,
		types.ReasonSchemaUnavailable: http.StatusServiceUnavailable,
	}
	for code, wantStatus := range cases {
		p := &stubProcessor{err: apierr.FromReason(code, fmt.Errorf("boom"))}
		r := newQueryRouter(t, p)

		req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question": "q"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		if rec.Code != wantStatus {
			t.Fatalf("%s: got status %d, want %d", code, rec.Code, wantStatus)
		}
		if !strings.Contains(rec.Body.String(), code) {
			t.Fatalf("%s: body missing reason code: %s", code, rec.Body.String())
		}
	}
}

func TestQueryRejectsEmptyQuestion(t *testing.T) {
	r := newQueryRouter(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"question": ""}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
