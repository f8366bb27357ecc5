package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// 文档的处理状态
const (
	DocStatusProcessed = "processed" // 已处理且签名未变化
	DocStatusModified  = "modified"  // 处理后内容有变化
	DocStatusNew       = "new"       // 尚未处理
	DocStatusDeleted   = "deleted"   // 数据源中已删除，分块待清理
)

// DocumentInfo 文档列表项
type DocumentInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Size        int64      `json:"size"`
	MimeType    string     `json:"mime_type,omitempty"`
	ModifiedAt  time.Time  `json:"modified_at"`
	Signature   string     `json:"signature"`
	Status      string     `json:"status"`
	ChunkCount  int        `json:"chunk_count"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	State       State      `json:"state"`
	Error       string     `json:"error,omitempty"`
}

// DocumentDetails 单个文档的处理详情
type DocumentDetails struct {
	DocumentInfo
	ProcessedSignature string   `json:"processed_signature,omitempty"`
	ChunkIDs           []string `json:"chunk_ids"`
}

// ListFilter 文档列表过滤条件
type ListFilter struct {
	Status string
	Offset int
	Limit  int
}

// DocumentService 文档管理服务
// 上传、修改、删除等写操作与扫描共用单任务保护
type DocumentService struct {
	source   source.Source
	scanner  *ScanService
	pipeline *PipelineService
	logger   *logrus.Logger
}

// NewDocumentService 创建文档管理服务
func NewDocumentService(src source.Source, scanner *ScanService, logger *logrus.Logger) *DocumentService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DocumentService{
		source:   src,
		scanner:  scanner,
		pipeline: scanner.pipeline,
		logger:   logger,
	}
}

// List 列出数据源中的文档及其处理状态，包括已删除但仍有记录的文档
func (s *DocumentService) List(ctx context.Context, filter ListFilter) ([]DocumentInfo, int, error) {
	entries, err := s.source.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	rec, err := s.scanner.Record(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load processing record: %w", err)
	}

	seen := make(map[string]struct{}, len(entries))
	all := make([]DocumentInfo, 0, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		all = append(all, s.describe(e, rec))
	}
	for _, entry := range rec.List() {
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		processedAt := entry.ProcessedAt
		all = append(all, DocumentInfo{
			ID:          entry.ID,
			Name:        entry.Name,
			Status:      DocStatusDeleted,
			ChunkCount:  entry.ChunkCount,
			ProcessedAt: &processedAt,
			State:       s.pipeline.status.Get(entry.ID).State,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	filtered := all[:0]
	for _, info := range all {
		if filter.Status == "" || info.Status == filter.Status {
			filtered = append(filtered, info)
		}
	}

	total := len(filtered)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return filtered[start:end], total, nil
}

func (s *DocumentService) describe(e source.Entry, rec *tracker.Record) DocumentInfo {
	info := DocumentInfo{
		ID:         e.ID,
		Name:       e.Name,
		Size:       e.Size,
		MimeType:   e.MimeType,
		ModifiedAt: e.ModifiedAt,
		Signature:  e.Signature,
		Status:     DocStatusNew,
	}
	if entry, ok := rec.Get(e.ID); ok {
		processedAt := entry.ProcessedAt
		info.ProcessedAt = &processedAt
		info.ChunkCount = entry.ChunkCount
		info.Status = DocStatusModified
		if entry.Status == tracker.StatusProcessed && entry.Signature == e.Signature && e.Signature != "" {
			info.Status = DocStatusProcessed
		}
	}
	state := s.pipeline.status.Get(e.ID)
	info.State = state.State
	info.Error = state.Error
	return info
}

// Get 获取文档的处理详情
func (s *DocumentService) Get(ctx context.Context, id string) (*DocumentDetails, error) {
	rec, err := s.scanner.Record(ctx)
	if err != nil {
		return nil, fmt.Errorf("load processing record: %w", err)
	}
	entry, known := rec.Get(id)

	doc, err := s.source.Read(ctx, id)
	var details *DocumentDetails
	switch {
	case err == nil:
		details = &DocumentDetails{DocumentInfo: s.describe(doc.Entry, rec)}
	case errors.Is(err, source.ErrDocumentNotFound) && known:
		processedAt := entry.ProcessedAt
		details = &DocumentDetails{DocumentInfo: DocumentInfo{
			ID:          id,
			Name:        entry.Name,
			Status:      DocStatusDeleted,
			ChunkCount:  entry.ChunkCount,
			ProcessedAt: &processedAt,
			State:       s.pipeline.status.Get(id).State,
		}}
	default:
		return nil, err
	}

	details.ChunkIDs = []string{}
	if known {
		details.ProcessedSignature = entry.Signature
		details.ChunkIDs = vectordb.ChunkIDs(id, entry.ChunkCount)
	}
	return details, nil
}

// Preview 返回文档原文和渲染后的HTML
func (s *DocumentService) Preview(ctx context.Context, id string) (document.Preview, error) {
	doc, err := s.source.Read(ctx, id)
	if err != nil {
		return document.Preview{}, err
	}
	return document.BuildPreview(doc.Name, doc.Content), nil
}

// Upload 上传新文档，autoProcess时立即处理
func (s *DocumentService) Upload(ctx context.Context, name string, r io.Reader, autoProcess bool) (source.Entry, *ScanReport, error) {
	entry, err := s.source.Create(ctx, name, r)
	if err != nil {
		return source.Entry{}, nil, err
	}
	s.logger.WithFields(logrus.Fields{"doc_id": entry.ID, "name": entry.Name}).Info("Document uploaded")
	return s.afterWrite(ctx, entry, autoProcess)
}

// Update 替换文档内容，autoProcess时立即处理
func (s *DocumentService) Update(ctx context.Context, id string, r io.Reader, autoProcess bool) (source.Entry, *ScanReport, error) {
	entry, err := s.source.Update(ctx, id, r)
	if err != nil {
		return source.Entry{}, nil, err
	}
	s.logger.WithField("doc_id", entry.ID).Info("Document content updated")
	return s.afterWrite(ctx, entry, autoProcess)
}

func (s *DocumentService) afterWrite(ctx context.Context, entry source.Entry, autoProcess bool) (source.Entry, *ScanReport, error) {
	if !autoProcess {
		return entry, nil, nil
	}
	report, err := s.scanner.ProcessSelected(ctx, models.TriggerUpload, []string{entry.ID}, false)
	if err != nil {
		// 文件已保存，未处理的部分由下次扫描完成
		return entry, report, err
	}
	return entry, report, nil
}

// Delete 从数据源、向量库和处理记录中删除文档
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	return s.scanner.WithRecord(ctx, func(rec *tracker.Record) error {
		if err := s.source.Delete(ctx, id); err != nil && !errors.Is(err, source.ErrDocumentNotFound) {
			return err
		}
		if _, ok := rec.Get(id); !ok {
			s.pipeline.status.Forget(id)
			return nil
		}
		return s.pipeline.RemoveDocument(ctx, rec, id)
	})
}

// Reprocess 忽略签名重新处理文档
func (s *DocumentService) Reprocess(ctx context.Context, id string) (*ScanReport, error) {
	return s.scanner.ProcessSelected(ctx, models.TriggerManual, []string{id}, true)
}

// ReprocessAll 忽略签名重新处理选定的文档
func (s *DocumentService) ReprocessAll(ctx context.Context, ids []string) (*ScanReport, error) {
	return s.scanner.ProcessSelected(ctx, models.TriggerSelected, ids, true)
}

// Process 处理选定的文档，签名未变化的跳过
func (s *DocumentService) Process(ctx context.Context, ids []string) (*ScanReport, error) {
	return s.scanner.ProcessSelected(ctx, models.TriggerSelected, ids, false)
}
