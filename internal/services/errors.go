package services

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingFailure 文档的分块向量化失败，处理记录保持不变
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrUpsertFailure 向量库写入或删除失败，处理记录保持不变
	ErrUpsertFailure = errors.New("upsert failure")
	// ErrScanInProgress 已有扫描或处理任务在运行
	ErrScanInProgress = errors.New("scan in progress")
	// ErrEmptyQuery 搜索内容为空
	ErrEmptyQuery = errors.New("query must not be empty")
)

// ProcessError 单个文档在某一阶段的处理失败
type ProcessError struct {
	DocID string
	Stage State
	Err   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %s: %v", e.DocID, e.Stage, e.Err)
}

// Unwrap 同时暴露阶段错误和底层原因
func (e *ProcessError) Unwrap() []error {
	switch e.Stage {
	case StateEmbedding:
		return []error{ErrEmbeddingFailure, e.Err}
	case StateUpserting:
		return []error{ErrUpsertFailure, e.Err}
	default:
		return []error{e.Err}
	}
}

func newProcessError(docID string, stage State, err error) *ProcessError {
	return &ProcessError{DocID: docID, Stage: stage, Err: err}
}
