package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/doc-ingest/api/model"
	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 资源冲突或任务进行中
	ErrorTypeRateLimited = "RATE_LIMITED"      // 上游服务限流
	ErrorTypeUpstream    = "UPSTREAM_ERROR"    // 上游服务返回错误
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 依赖服务不可用
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // HTTP状态码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewConflictError 创建冲突错误
func NewConflictError(message string) AppError {
	return AppError{
		Type:    ErrorTypeConflict,
		Message: message,
		Code:    http.StatusConflict,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// FromError 将领域错误映射为应用错误
func FromError(err error) AppError {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, services.ErrScanInProgress):
		return NewConflictError("a scan is already running")
	case errors.Is(err, source.ErrDocumentExists):
		return NewConflictError(err.Error())
	case errors.Is(err, source.ErrDocumentNotFound):
		return NewNotFoundError(err.Error())
	case errors.Is(err, source.ErrUnsupportedDocument),
		errors.Is(err, services.ErrEmptyQuery):
		return NewValidationError(err.Error())
	case errors.Is(err, embedding.ErrRateLimited):
		return AppError{Type: ErrorTypeRateLimited, Message: "embedding service rate limit exceeded", Details: err.Error(), Code: http.StatusTooManyRequests}
	case errors.Is(err, services.ErrEmbeddingFailure):
		return AppError{Type: ErrorTypeUpstream, Message: "embedding service failed", Details: err.Error(), Code: http.StatusBadGateway}
	case errors.Is(err, source.ErrSourceUnavailable):
		return AppError{Type: ErrorTypeUnavailable, Message: "document source unavailable", Details: err.Error(), Code: http.StatusServiceUnavailable}
	case errors.Is(err, vectordb.ErrConnection),
		errors.Is(err, vectordb.ErrIndexNotFound):
		return AppError{Type: ErrorTypeUnavailable, Message: "vector store unavailable", Details: err.Error(), Code: http.StatusServiceUnavailable}
	default:
		return NewInternalError("internal server error", err.Error())
	}
}

// ErrorHandler 统一错误处理中间件
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(logrus.Fields{
					FieldError: rec,
					"stack":    string(debug.Stack()),
					FieldPath:  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				resp := model.NewErrorResponse(http.StatusInternalServerError, "An unexpected error occurred")
				if gin.Mode() == gin.DebugMode {
					resp.Message = fmt.Sprintf("Panic: %v", rec)
				}
				resp.TraceID = c.GetString("TraceID")
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr := FromError(err)
		traceID := c.GetString("TraceID")

		entry := log.WithFields(logrus.Fields{
			"error_type": appErr.Type,
			FieldTraceID: traceID,
			FieldPath:    c.Request.URL.Path,
			FieldError:   err.Error(),
		})
		if appErr.Code >= http.StatusInternalServerError {
			entry.Error(appErr.Message)
		} else {
			entry.Warn(appErr.Message)
		}

		resp := model.NewErrorResponse(appErr.Code, appErr.Message)
		if appErr.Details != "" && (appErr.Code < http.StatusInternalServerError || gin.Mode() == gin.DebugMode) {
			resp.Message = appErr.Message + ": " + appErr.Details
		}
		resp.TraceID = traceID
		c.AbortWithStatusJSON(appErr.Code, resp)
	}
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	_ = c.Error(err)
}
