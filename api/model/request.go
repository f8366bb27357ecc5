package model

import (
	"mime/multipart"
)

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" json:"page" binding:"omitempty,min=1"`           // 当前页码，从1开始
	PageSize int `form:"page_size" json:"page_size" binding:"omitempty,min=1"` // 每页记录数
}

// GetPage 获取页码，默认为1
func (p *PaginationRequest) GetPage() int {
	if p.Page <= 0 {
		return 1
	}
	return p.Page
}

// GetPageSize 获取每页记录数，默认为20，最大为100
func (p *PaginationRequest) GetPageSize() int {
	if p.PageSize <= 0 {
		return 20
	}
	if p.PageSize > 100 {
		return 100
	}
	return p.PageSize
}

// Offset 当前页的偏移量
func (p *PaginationRequest) Offset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

// DocumentListRequest 文档列表请求
type DocumentListRequest struct {
	PaginationRequest
	Status string `form:"status" json:"status" binding:"omitempty,oneof=processed modified new deleted"` // 处理状态过滤
}

// DocumentUploadRequest 文档上传请求
type DocumentUploadRequest struct {
	File        *multipart.FileHeader `form:"file" binding:"required"` // 文件对象
	AutoProcess bool                  `form:"auto_process"`            // 上传后立即处理
}

// DocumentUpdateRequest 替换文档内容
type DocumentUpdateRequest struct {
	Content     string `json:"content" binding:"required"` // 新内容
	AutoProcess bool   `json:"auto_process"`               // 保存后立即处理
}

// ProcessRequest 处理选定文档
type ProcessRequest struct {
	IDs   []string `json:"ids" binding:"required,min=1,dive,required"` // 文档ID列表
	Force bool     `json:"force"`                                      // 忽略签名强制处理
}

// SearchRequest 相似度搜索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required"`               // 查询文本
	TopK  int    `json:"top_k" binding:"omitempty,min=1,max=50"` // 返回数量，默认5
}

// AutoScanRequest 开关定时扫描
type AutoScanRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ScanRequest 立即扫描
type ScanRequest struct {
	Wait bool `form:"wait"` // 等待扫描完成后再返回
}
