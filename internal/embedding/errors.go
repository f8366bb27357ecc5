package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited 服务端限流，重试耗尽后返回
	ErrRateLimited = errors.New("embedding rate limited")
	// ErrServiceError 嵌入服务返回错误或无法访问
	ErrServiceError = errors.New("embedding service error")
	// ErrEmptyText 输入文本为空
	ErrEmptyText = errors.New("input text cannot be empty")
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// Unwrap 按错误码归类到哨兵错误
func (e EmbeddingError) Unwrap() error {
	switch e.Code {
	case ErrCodeRateLimited:
		return ErrRateLimited
	case ErrCodeEmptyInput:
		return ErrEmptyText
	case ErrCodeInvalidRequest:
		return nil
	default:
		return ErrServiceError
	}
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
	ErrCodeBadResponse    = 1008 // 响应与请求不匹配
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}
