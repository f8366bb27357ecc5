package handler

import (
	"net/http"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SearchHandler 相似度搜索
type SearchHandler struct {
	search *services.SearchService
	logger *logrus.Logger
}

// NewSearchHandler 创建搜索处理器
func NewSearchHandler(search *services.SearchService) *SearchHandler {
	return &SearchHandler{
		search: search,
		logger: middleware.GetLogger(),
	}
}

// Search 根据查询文本检索最相似的分块
// POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("query is required", err.Error()))
		return
	}

	hits, err := h.search.Search(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if hits == nil {
		hits = []services.SearchHit{}
	}

	h.logger.WithFields(logrus.Fields{
		"query":   req.Query,
		"results": len(hits),
	}).Debug("Search completed")

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Query:   req.Query,
		Results: hits,
	}))
}
