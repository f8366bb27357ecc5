package handler

import (
	"net/http"
	"time"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DashboardHandler 仪表盘页面、统计和连接检查
type DashboardHandler struct {
	dashboard *services.DashboardService
	page      []byte
	logger    *logrus.Logger
	started   time.Time
}

// NewDashboardHandler 创建仪表盘处理器，page为首页HTML
func NewDashboardHandler(dashboard *services.DashboardService, page []byte) *DashboardHandler {
	return &DashboardHandler{
		dashboard: dashboard,
		page:      page,
		logger:    middleware.GetLogger(),
		started:   time.Now(),
	}
}

// Index 仪表盘首页
// GET /
func (h *DashboardHandler) Index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", h.page)
}

// Health 存活检查
// GET /api/health
func (h *DashboardHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}))
}

// Status 处理统计
// GET /api/status
func (h *DashboardHandler) Status(c *gin.Context) {
	stats, err := h.dashboard.Stats(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(stats))
}

// Connections 检查外部服务连接
// GET /api/connections
func (h *DashboardHandler) Connections(c *gin.Context) {
	conns := h.dashboard.Connections(c.Request.Context())
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ConnectionsResponse{
		Healthy:     services.Healthy(conns),
		Connections: conns,
	}))
}
