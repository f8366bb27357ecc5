package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScanStatus 扫描状态
type ScanStatus string

const (
	// ScanStatusRunning 扫描进行中
	ScanStatusRunning ScanStatus = "running"
	// ScanStatusCompleted 扫描完成（可能包含单个文档的失败）
	ScanStatusCompleted ScanStatus = "completed"
	// ScanStatusFailed 扫描整体失败，例如数据源不可用
	ScanStatusFailed ScanStatus = "failed"
	// ScanStatusCanceled 扫描被中止
	ScanStatusCanceled ScanStatus = "canceled"
)

// ScanTrigger 扫描触发方式
type ScanTrigger string

const (
	TriggerManual   ScanTrigger = "manual"   // 仪表盘手动触发
	TriggerSchedule ScanTrigger = "schedule" // 定时触发
	TriggerCLI      ScanTrigger = "cli"      // 命令行触发
	TriggerUpload   ScanTrigger = "upload"   // 上传后自动处理
	TriggerSelected ScanTrigger = "selected" // 处理选定文档
)

// ScanRun 扫描历史记录
type ScanRun struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`              // 扫描ID
	Trigger    ScanTrigger    `gorm:"size:20;not null" json:"trigger"`           // 触发方式
	Status     ScanStatus     `gorm:"size:20;not null;index" json:"status"`      // 扫描状态
	StartedAt  time.Time      `gorm:"not null;index" json:"started_at"`          // 开始时间
	FinishedAt *time.Time     `json:"finished_at,omitempty"`                     // 结束时间
	NewCount   int            `gorm:"not null;default:0" json:"new_count"`       // 新增文档数
	Modified   int            `gorm:"not null;default:0" json:"modified_count"`  // 修改文档数
	Deleted    int            `gorm:"not null;default:0" json:"deleted_count"`   // 删除文档数
	Processed  int            `gorm:"not null;default:0" json:"processed_count"` // 成功处理数
	Failed     int            `gorm:"not null;default:0" json:"failed_count"`    // 失败数
	Chunks     int            `gorm:"not null;default:0" json:"chunk_count"`     // 本次写入的分块数
	Error      string         `gorm:"type:text" json:"error,omitempty"`          // 整体错误信息
	Failures   datatypes.JSON `gorm:"type:json" json:"failures,omitempty"`       // 单个文档的失败详情
}

// BeforeCreate GORM的钩子函数，创建记录前设置开始时间
func (s *ScanRun) BeforeCreate(tx *gorm.DB) (err error) {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	return nil
}

// TableName 明确指定表名
func (ScanRun) TableName() string {
	return "scan_runs"
}
