package source

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Type 文档来源类型
type Type string

const (
	// TypeLocal 本地目录
	TypeLocal Type = "local"
	// TypeMinIO MinIO/S3桶
	TypeMinIO Type = "minio"
	// TypeGDrive Google Drive文件夹
	TypeGDrive Type = "gdrive"
)

var (
	// ErrSourceUnavailable 来源无法访问（认证失败、网络错误、目录不存在等）
	ErrSourceUnavailable = errors.New("document source unavailable")
	// ErrDocumentNotFound 文档不存在
	ErrDocumentNotFound = errors.New("document not found in source")
	// ErrUnsupportedDocument 文件类型不在处理范围内
	ErrUnsupportedDocument = errors.New("unsupported document type")
	// ErrDocumentExists 同名文档已存在
	ErrDocumentExists = errors.New("document already exists")
)

// Entry 来源中一个文档的元数据
type Entry struct {
	ID         string    `json:"id"`          // 在来源内稳定的唯一标识
	Name       string    `json:"name"`        // 显示名称
	Signature  string    `json:"signature"`   // 内容指纹，内容变化时必然变化
	Size       int64     `json:"size"`        // 大小(字节)
	ModifiedAt time.Time `json:"modified_at"` // 修改时间
	MimeType   string    `json:"mime_type"`   // MIME类型
}

// Document 带有文本内容的文档
type Document struct {
	Entry
	Content string `json:"content"`
}

// Source 文档来源接口
// 列举、读取、写入和删除来源中的文档
type Source interface {
	// Type 返回来源类型
	Type() Type

	// List 列出当前全部待处理文档
	List(ctx context.Context) ([]Entry, error)

	// Read 读取文档并解析为文本
	Read(ctx context.Context, id string) (Document, error)

	// Create 新建文档
	Create(ctx context.Context, name string, r io.Reader) (Entry, error)

	// Update 替换已有文档的内容
	Update(ctx context.Context, id string, r io.Reader) (Entry, error)

	// Delete 删除文档
	Delete(ctx context.Context, id string) error

	// Ping 检查来源是否可访问
	Ping(ctx context.Context) error
}

// DefaultExtensions 默认处理的文件扩展名
var DefaultExtensions = []string{".md", ".markdown", ".txt"}

// extensionFilter 按扩展名过滤文件
type extensionFilter map[string]struct{}

func newExtensionFilter(exts []string) extensionFilter {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	f := make(extensionFilter, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f[ext] = struct{}{}
	}
	return f
}

func (f extensionFilter) match(name string) bool {
	_, ok := f[strings.ToLower(filepath.Ext(name))]
	return ok
}
