package model

import (
	"time"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/internal/source"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// PaginationResponse 分页响应信息
type PaginationResponse struct {
	Total    int `json:"total"`     // 总记录数
	Page     int `json:"page"`      // 当前页码
	PageSize int `json:"page_size"` // 每页大小
}

// DocumentListResponse 文档列表响应
type DocumentListResponse struct {
	PaginationResponse
	Documents []services.DocumentInfo `json:"documents"`
}

// DocumentWriteResponse 上传或修改文档的响应
type DocumentWriteResponse struct {
	Document source.Entry         `json:"document"`
	Report   *services.ScanReport `json:"report,omitempty"` // 自动处理的结果
	Error    string               `json:"error,omitempty"`  // 自动处理失败的原因，文件已保存
}

// DocumentDeleteResponse 文档删除响应
type DocumentDeleteResponse struct {
	Success bool   `json:"success"` // 是否成功
	FileID  string `json:"file_id"` // 文件ID
}

// ScanStartedResponse 后台扫描已启动
type ScanStartedResponse struct {
	Started   bool      `json:"started"`
	StartedAt time.Time `json:"started_at"`
}

// ScanListResponse 扫描历史
type ScanListResponse struct {
	PaginationResponse
	Scans []*models.ScanRun `json:"scans"`
}

// AutoScanResponse 定时扫描状态
type AutoScanResponse = services.AutoScanState

// SearchResponse 搜索响应
type SearchResponse struct {
	Query   string               `json:"query"`
	Results []services.SearchHit `json:"results"`
}

// ConnectionsResponse 连接检查响应
type ConnectionsResponse struct {
	Healthy     bool                  `json:"healthy"`
	Connections []services.Connection `json:"connections"`
}
