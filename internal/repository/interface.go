package repository

import (
	"context"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
)

// RecordRepository 数据库中的处理记录，实现 tracker.Store
type RecordRepository interface {
	tracker.Store

	// Get 获取单个文档的记录
	Get(ctx context.Context, id string) (*models.ProcessedFile, error)

	// Delete 删除单个文档的记录
	Delete(ctx context.Context, id string) error
}

// ScanRepository 扫描历史仓储接口
type ScanRepository interface {
	// Create 创建扫描记录
	Create(ctx context.Context, run *models.ScanRun) error

	// Update 更新扫描记录
	Update(ctx context.Context, run *models.ScanRun) error

	// GetByID 根据ID获取扫描记录
	GetByID(ctx context.Context, id string) (*models.ScanRun, error)

	// Latest 返回最近一次扫描，没有时返回 models.ErrScanNotFound
	Latest(ctx context.Context) (*models.ScanRun, error)

	// List 按开始时间倒序分页列出扫描记录
	List(ctx context.Context, offset, limit int) ([]*models.ScanRun, int64, error)

	// Prune 只保留最近 keep 条记录
	Prune(ctx context.Context, keep int) error
}
