package models

import (
	"time"

	"gorm.io/gorm"
)

// ProcessedFile 处理记录表
// 每行对应一个已成功写入向量库的文档
type ProcessedFile struct {
	ID          string    `gorm:"primaryKey;size:512"` // 文档ID
	Name        string    `gorm:"not null"`            // 文件名
	Signature   string    `gorm:"size:128;not null"`   // 内容签名
	ChunkCount  int       `gorm:"not null;default:0"`  // 分块数量
	Status      string    `gorm:"size:20;not null"`    // 记录状态
	ProcessedAt time.Time `gorm:"not null;index"`      // 处理完成时间
	UpdatedAt   time.Time `gorm:"not null"`            // 更新时间
}

// BeforeSave GORM的钩子函数，保存前设置更新时间
func (f *ProcessedFile) BeforeSave(tx *gorm.DB) (err error) {
	f.UpdatedAt = time.Now()
	return nil
}

// TableName 明确指定表名
func (ProcessedFile) TableName() string {
	return "processed_files"
}
