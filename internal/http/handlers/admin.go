package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/paladugusuresh/graphrag/internal/graphrag/schema"
	"github.com/paladugusuresh/graphrag/internal/http/response"
	"github.com/paladugusuresh/graphrag/internal/platform/logger"
)

type SchemaAdminHandler struct {
	catalog  *schema.Catalog
	embedder *schema.Embedder
	synonyms *schema.Synonyms
	log      *logger.Logger
}

func NewSchemaAdminHandler(catalog *schema.Catalog, embedder *schema.Embedder, synonyms *schema.Synonyms, log *logger.Logger) *SchemaAdminHandler {
	return &SchemaAdminHandler{
		catalog:  catalog,
		embedder: embedder,
		synonyms: synonyms,
		log:      log.With("Handler", "SchemaAdminHandler"),
	}
}

// RefreshSchema rebuilds the allow-list snapshot and re-syncs the schema
// term embeddings. This is the only write-mode operation in the service.
func (h *SchemaAdminHandler) RefreshSchema(c *gin.Context) {
	ctx := c.Request.Context()

	snap, changed, err := h.catalog.Refresh(ctx)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}

	terms := 0
	if changed || c.Query("force") == "true" {
		terms, err = h.embedder.Sync(ctx, snap.AllowList, h.synonyms)
		if err != nil {
			response.RespondAPIError(c, err)
			return
		}
	}

	response.RespondOK(c, gin.H{
		"fingerprint":   snap.Fingerprint,
		"changed":       changed,
		"terms_synced":  terms,
		"labels":        len(snap.AllowList.Labels),
		"relationships": len(snap.AllowList.Relationships),
		"built_at":      snap.BuiltAt,
	})
}
