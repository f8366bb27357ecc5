package repository

import (
	"context"
	"errors"

	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"gorm.io/gorm"
)

// scanRepository 扫描历史仓储实现
type scanRepository struct {
	db *gorm.DB
}

// NewScanRepository 使用全局数据库连接创建扫描历史仓储
func NewScanRepository() ScanRepository {
	return &scanRepository{db: database.MustDB()}
}

// NewScanRepositoryWithDB 使用指定的数据库连接创建扫描历史仓储
func NewScanRepositoryWithDB(db *gorm.DB) ScanRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &scanRepository{db: db}
}

// Create 创建扫描记录
func (r *scanRepository) Create(ctx context.Context, run *models.ScanRun) error {
	if run.ID == "" {
		return errors.New("scan ID cannot be empty")
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// Update 更新扫描记录
func (r *scanRepository) Update(ctx context.Context, run *models.ScanRun) error {
	if run.ID == "" {
		return errors.New("scan ID cannot be empty")
	}
	return r.db.WithContext(ctx).Save(run).Error
}

// GetByID 根据ID获取扫描记录
func (r *scanRepository) GetByID(ctx context.Context, id string) (*models.ScanRun, error) {
	var run models.ScanRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrScanNotFound
		}
		return nil, err
	}
	return &run, nil
}

// Latest 返回最近一次扫描
func (r *scanRepository) Latest(ctx context.Context) (*models.ScanRun, error) {
	var run models.ScanRun
	if err := r.db.WithContext(ctx).Order("started_at DESC").First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrScanNotFound
		}
		return nil, err
	}
	return &run, nil
}

// List 按开始时间倒序分页列出扫描记录
func (r *scanRepository) List(ctx context.Context, offset, limit int) ([]*models.ScanRun, int64, error) {
	var runs []*models.ScanRun
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ScanRun{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("started_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Prune 只保留最近 keep 条记录
func (r *scanRepository) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	var cutoff models.ScanRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Offset(keep - 1).First(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("started_at < ?", cutoff.StartedAt).Delete(&models.ScanRun{}).Error
}
