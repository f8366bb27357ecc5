package models

import "errors"

var (
	// ErrScanNotFound 扫描记录不存在
	ErrScanNotFound = errors.New("scan run not found")
)
