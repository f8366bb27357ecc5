package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/sirupsen/logrus"
)

// BlobSource 基于对象存储的文档来源
// 本地目录和MinIO桶共用此实现，文档ID即对象键
type BlobSource struct {
	store      storage.Storage
	kind       Type
	extensions extensionFilter
	logger     *logrus.Logger
}

// BlobOption 配置BlobSource的选项
type BlobOption func(*BlobSource)

// WithExtensions 设置处理的文件扩展名
func WithExtensions(exts []string) BlobOption {
	return func(s *BlobSource) {
		s.extensions = newExtensionFilter(exts)
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) BlobOption {
	return func(s *BlobSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewBlobSource 创建对象存储来源
func NewBlobSource(kind Type, store storage.Storage, opts ...BlobOption) *BlobSource {
	s := &BlobSource{
		store:      store,
		kind:       kind,
		extensions: newExtensionFilter(nil),
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Type 返回来源类型
func (s *BlobSource) Type() Type {
	return s.kind
}

// List 列出扩展名匹配的对象，按ID排序
func (s *BlobSource) List(ctx context.Context) ([]Entry, error) {
	objects, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		if !s.extensions.match(obj.Key) {
			continue
		}
		entries = append(entries, toEntry(obj))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	s.logger.WithFields(logrus.Fields{
		"source":  s.kind,
		"objects": len(objects),
		"matched": len(entries),
	}).Debug("Listed documents")
	return entries, nil
}

// Read 读取对象并按扩展名解析
func (s *BlobSource) Read(ctx context.Context, id string) (Document, error) {
	if !s.extensions.match(id) {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, id)
	}

	// 先取元数据再取内容，期间若被修改，下次扫描会因指纹不同而重新处理
	info, err := s.store.Stat(ctx, id)
	if err != nil {
		return Document{}, s.mapError(err, id)
	}

	reader, err := s.store.Get(ctx, id)
	if err != nil {
		return Document{}, s.mapError(err, id)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Document{}, fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, id, err)
	}

	text, err := document.ParseBytes(data, info.Name)
	if err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", id, err)
	}

	return Document{Entry: toEntry(info), Content: text}, nil
}

// Create 写入新对象，name作为对象键
func (s *BlobSource) Create(ctx context.Context, name string, r io.Reader) (Entry, error) {
	key, err := storage.CleanKey(name)
	if err != nil {
		return Entry{}, err
	}
	if !s.extensions.match(key) {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, name)
	}

	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return Entry{}, s.mapError(err, key)
	}
	if exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDocumentExists, key)
	}
	return s.save(ctx, key, r)
}

// Update 覆盖已有对象
func (s *BlobSource) Update(ctx context.Context, id string, r io.Reader) (Entry, error) {
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		return Entry{}, s.mapError(err, id)
	}
	if !exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return s.save(ctx, id, r)
}

func (s *BlobSource) save(ctx context.Context, key string, r io.Reader) (Entry, error) {
	info, err := s.store.Save(ctx, key, r)
	if err != nil {
		return Entry{}, s.mapError(err, key)
	}
	return toEntry(info), nil
}

// Delete 删除对象
func (s *BlobSource) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return s.mapError(err, id)
	}
	return nil
}

// Ping 检查存储可用
func (s *BlobSource) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return nil
}

func (s *BlobSource) mapError(err error, id string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	case errors.Is(err, storage.ErrInvalidKey):
		return fmt.Errorf("invalid document id %q: %w", id, err)
	default:
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
}

func toEntry(info storage.ObjectInfo) Entry {
	name := info.Name
	if name == "" {
		name = path.Base(info.Key)
	}
	return Entry{
		ID:         info.Key,
		Name:       name,
		Signature:  info.ETag,
		Size:       info.Size,
		ModifiedAt: info.ModTime,
		MimeType:   info.MimeType,
	}
}
