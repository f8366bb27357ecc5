package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRecordNotFound 文档记录不存在
var ErrRecordNotFound = errors.New("processed file record not found")

// recordRepository 处理记录仓储实现
type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 使用全局数据库连接创建处理记录仓储
func NewRecordRepository() RecordRepository {
	return &recordRepository{db: database.MustDB()}
}

// NewRecordRepositoryWithDB 使用指定的数据库连接创建处理记录仓储
func NewRecordRepositoryWithDB(db *gorm.DB) RecordRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &recordRepository{db: db}
}

// Load 读取全部记录
func (r *recordRepository) Load(ctx context.Context) (*tracker.Record, error) {
	var rows []models.ProcessedFile
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load processed files: %w", err)
	}

	record := tracker.NewRecord()
	for _, row := range rows {
		record.Entries[row.ID] = tracker.Entry{
			ID:          row.ID,
			Name:        row.Name,
			Signature:   row.Signature,
			ChunkCount:  row.ChunkCount,
			Status:      tracker.Status(row.Status),
			ProcessedAt: row.ProcessedAt,
		}
		if row.UpdatedAt.After(record.LastUpdated) {
			record.LastUpdated = row.UpdatedAt
		}
	}
	return record, nil
}

// Save 在事务中同步整张表：删除记录中已不存在的行，插入或更新其余行
func (r *recordRepository) Save(ctx context.Context, record *tracker.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, record.Len())
		rows := make([]models.ProcessedFile, 0, record.Len())
		for _, e := range record.List() {
			ids = append(ids, e.ID)
			rows = append(rows, models.ProcessedFile{
				ID:          e.ID,
				Name:        e.Name,
				Signature:   e.Signature,
				ChunkCount:  e.ChunkCount,
				Status:      string(e.Status),
				ProcessedAt: e.ProcessedAt,
			})
		}

		del := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(ids) > 0 {
			del = del.Where("id NOT IN ?", ids)
		}
		if err := del.Delete(&models.ProcessedFile{}).Error; err != nil {
			return fmt.Errorf("failed to delete stale records: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).CreateInBatches(rows, 100).Error
		if err != nil {
			return fmt.Errorf("failed to upsert records: %w", err)
		}
		return nil
	})
}

// Get 获取单个文档的记录
func (r *recordRepository) Get(ctx context.Context, id string) (*models.ProcessedFile, error) {
	var row models.ProcessedFile
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Delete 删除单个文档的记录
func (r *recordRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProcessedFile{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
