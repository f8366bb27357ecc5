package handler

import (
	"net/http"
	"strings"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档相关的API请求
type DocumentHandler struct {
	documents *services.DocumentService // 文档服务
	logger    *logrus.Logger            // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(documents *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		logger:    middleware.GetLogger(),
	}
}

// ListDocuments 列出文档及处理状态
// GET /api/documents
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	var req model.DocumentListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	docs, total, err := h.documents.List(c.Request.Context(), services.ListFilter{
		Status: req.Status,
		Offset: req.Offset(),
		Limit:  req.GetPageSize(),
	})
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentListResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    total,
			Page:     req.GetPage(),
			PageSize: req.GetPageSize(),
		},
		Documents: docs,
	}))
}

// GetDocument 获取文档处理详情
// GET /api/documents/:id
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	details, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(details))
}

// PreviewDocument 文档预览
// GET /api/documents/:id/preview
func (h *DocumentHandler) PreviewDocument(c *gin.Context) {
	preview, err := h.documents.Preview(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(preview))
}

// UploadDocument 上传文档
// POST /api/documents
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	var req model.DocumentUploadRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("a file is required", err.Error()))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"error":    err.Error(),
			"filename": req.File.Filename,
		}).Error("Failed to open uploaded file")
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file"))
		return
	}
	defer file.Close()

	entry, report, err := h.documents.Upload(c.Request.Context(), req.File.Filename, file, req.AutoProcess)
	h.writeResult(c, http.StatusCreated, entry, report, err)
}

// UpdateDocument 替换文档内容
// PUT /api/documents/:id
func (h *DocumentHandler) UpdateDocument(c *gin.Context) {
	var req model.DocumentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("content is required", err.Error()))
		return
	}

	entry, report, err := h.documents.Update(c.Request.Context(), c.Param("id"), strings.NewReader(req.Content), req.AutoProcess)
	h.writeResult(c, http.StatusOK, entry, report, err)
}

// writeResult 文件保存成功但自动处理失败时仍返回成功，并附带失败原因
func (h *DocumentHandler) writeResult(c *gin.Context, status int, entry source.Entry, report *services.ScanReport, err error) {
	if err != nil && entry.ID == "" {
		middleware.HandleError(c, err)
		return
	}

	resp := model.DocumentWriteResponse{Document: entry, Report: report}
	if err != nil {
		resp.Error = err.Error()
		h.logger.WithField("doc_id", entry.ID).WithError(err).Warn("Document saved but not processed")
	}
	c.JSON(status, model.NewSuccessResponse(resp))
}

// DeleteDocument 从数据源、向量库和处理记录中删除文档
// DELETE /api/documents/:id
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.DocumentDeleteResponse{
		Success: true,
		FileID:  id,
	}))
}

// ReprocessDocument 强制重新处理
// POST /api/documents/:id/reprocess
func (h *DocumentHandler) ReprocessDocument(c *gin.Context) {
	report, err := h.documents.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(report))
}

// ProcessDocuments 处理选定的文档
// POST /api/documents/process
func (h *DocumentHandler) ProcessDocuments(c *gin.Context) {
	var req model.ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("ids are required", err.Error()))
		return
	}

	var (
		report *services.ScanReport
		err    error
	)
	if req.Force {
		report, err = h.documents.ReprocessAll(c.Request.Context(), req.IDs)
	} else {
		report, err = h.documents.Process(c.Request.Context(), req.IDs)
	}
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(report))
}
