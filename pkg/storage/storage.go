package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound 对象不存在
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey 对象键非法（绝对路径、越界路径等）
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo 对象元数据
type ObjectInfo struct {
	Key      string    // 对象键，使用 / 分隔的相对路径
	Name     string    // 文件名
	Size     int64     // 大小(字节)
	ModTime  time.Time // 修改时间
	ETag     string    // 内容指纹：本地为SHA-256，S3为ETag
	MimeType string    // MIME类型
}

// Storage 文件存储接口
// 本地目录和MinIO桶都以对象键寻址
type Storage interface {
	// Save 写入对象，已存在时覆盖
	Save(ctx context.Context, key string, reader io.Reader) (ObjectInfo, error)

	// Get 读取对象内容
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat 获取对象元数据
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出全部对象
	List(ctx context.Context) ([]ObjectInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// Ping 检查存储是否可用
	Ping(ctx context.Context) error
}

// CleanKey 规范化对象键，拒绝越界路径
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// getMimeType 简单根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
