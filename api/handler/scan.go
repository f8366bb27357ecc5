package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fyerfyer/doc-ingest/api/middleware"
	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ScanHandler 处理扫描与定时扫描相关的请求
type ScanHandler struct {
	scans     *services.ScanService
	scheduler *services.Scheduler
	logger    *logrus.Logger

	// 后台扫描使用的上下文，与请求的生命周期无关
	base context.Context
	wg   sync.WaitGroup
}

// NewScanHandler 创建扫描处理器
// base被取消时后台扫描会在两个文档之间停止
func NewScanHandler(base context.Context, scans *services.ScanService, scheduler *services.Scheduler) *ScanHandler {
	return &ScanHandler{
		scans:     scans,
		scheduler: scheduler,
		logger:    middleware.GetLogger(),
		base:      base,
	}
}

// ScanNow 立即扫描
// POST /api/scan
// 默认在后台运行并返回202，wait=true时等待扫描结束并返回报告
func (h *ScanHandler) ScanNow(c *gin.Context) {
	var req model.ScanRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	if req.Wait {
		report, err := h.scans.Scan(c.Request.Context(), models.TriggerManual)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusOK, model.NewSuccessResponse(report))
		return
	}

	startedAt := time.Now()
	if err := h.Start(models.TriggerManual); err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.ScanStartedResponse{
		Started:   true,
		StartedAt: startedAt,
	}))
}

// Start 获取单任务标志后在后台扫描，已有任务运行时返回ErrScanInProgress
// 后台扫描由Wait等待
func (h *ScanHandler) Start(trigger models.ScanTrigger) error {
	run, err := h.scans.TryScan(trigger)
	if err != nil {
		return err
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		report, err := run(h.base)
		if err != nil {
			h.logger.WithError(err).WithField("trigger", trigger).Warn("Background scan did not complete")
			return
		}
		h.logger.WithFields(logrus.Fields{
			"scan_id":   report.ID,
			"trigger":   trigger,
			"processed": report.Processed,
			"failed":    report.Failed,
		}).Info("Background scan finished")
	}()
	return nil
}

// Wait 等待所有后台扫描结束
func (h *ScanHandler) Wait() {
	h.wg.Wait()
}

// ListScans 扫描历史
// GET /api/scans
func (h *ScanHandler) ListScans(c *gin.Context) {
	var req model.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	runs, total, err := h.scans.History(c.Request.Context(), req.Offset(), req.GetPageSize())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if runs == nil {
		runs = []*models.ScanRun{}
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ScanListResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    int(total),
			Page:     req.GetPage(),
			PageSize: req.GetPageSize(),
		},
		Scans: runs,
	}))
}

// GetAutoScan 定时扫描状态
// GET /api/autoscan
func (h *ScanHandler) GetAutoScan(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(h.autoScanState()))
}

// SetAutoScan 开关定时扫描
// PUT /api/autoscan
func (h *ScanHandler) SetAutoScan(c *gin.Context) {
	var req model.AutoScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("enabled is required", err.Error()))
		return
	}

	h.scheduler.SetEnabled(*req.Enabled)
	h.logger.WithField("enabled", *req.Enabled).Info("Auto scan toggled")

	c.JSON(http.StatusOK, model.NewSuccessResponse(h.autoScanState()))
}

func (h *ScanHandler) autoScanState() model.AutoScanResponse {
	return h.scheduler.State()
}
