package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paladugusuresh/graphrag/internal/graphrag/pipeline"
	"github.com/paladugusuresh/graphrag/internal/http/response"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

// Processor is the slice of the pipeline the handler needs.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

type QueryHandler struct {
	pipeline Processor
	log      *logger.Logger
}

func NewQueryHandler(p Processor, log *logger.Logger) *QueryHandler {
	return &QueryHandler{pipeline: p, log: log.With("Handler", "QueryHandler")}
}

func (h *QueryHandler) Query(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Question == "" {
		response.RespondError(c, http.StatusBadRequest, "BAD_REQUEST", fmt.Errorf("question is required"))
		return
	}

	resp, err := h.pipeline.Process(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, resp)
}
