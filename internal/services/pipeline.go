package services

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// PipelineService 文档处理流水线
// 分块 → 向量化全部分块 → 删除旧分块 → 写入 → 更新处理记录
type PipelineService struct {
	splitter document.Splitter   // 文本分段器
	embedder embedding.Client    // 嵌入模型客户端
	store    vectordb.Repository // 向量数据库
	status   *StatusManager      // 文档状态管理器
	logger   *logrus.Logger      // 日志记录器
	now      func() time.Time
}

// PipelineOption 流水线配置选项
type PipelineOption func(*PipelineService)

// WithPipelineLogger 设置日志记录器
func WithPipelineLogger(logger *logrus.Logger) PipelineOption {
	return func(p *PipelineService) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithStatusManager 设置状态管理器
func WithStatusManager(manager *StatusManager) PipelineOption {
	return func(p *PipelineService) {
		if manager != nil {
			p.status = manager
		}
	}
}

// WithClock 设置时间来源
func WithClock(now func() time.Time) PipelineOption {
	return func(p *PipelineService) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipelineService 创建文档处理流水线
func NewPipelineService(
	splitter document.Splitter,
	embedder embedding.Client,
	store vectordb.Repository,
	opts ...PipelineOption,
) *PipelineService {
	p := &PipelineService{
		splitter: splitter,
		embedder: embedder,
		store:    store,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.status == nil {
		p.status = NewStatusManager(p.logger)
	}
	return p
}

// Status 返回状态管理器
func (p *PipelineService) Status() *StatusManager {
	return p.status
}

// ProcessDocument 处理单个文档
// 失败时处理记录保持不变；成功后rec中该文档的签名等于doc.Signature
func (p *PipelineService) ProcessDocument(ctx context.Context, rec *tracker.Record, doc source.Document) error {
	log := p.logger.WithFields(logrus.Fields{"doc_id": doc.ID, "name": doc.Name})
	p.enqueue(doc.ID)

	fail := func(stage State, err error) error {
		perr := newProcessError(doc.ID, stage, err)
		p.status.Fail(doc.ID, perr)
		log.WithField("stage", stage).WithError(err).Warn("Document processing failed")
		return perr
	}

	p.transition(doc.ID, StateChunking)
	contents, err := p.splitter.Split(doc.Content)
	if err != nil {
		return fail(StateChunking, err)
	}

	texts := make([]string, len(contents))
	for i, c := range contents {
		texts[i] = c.Text
	}

	// 全部分块向量化完成后才写向量库
	p.transition(doc.ID, StateEmbedding)
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fail(StateEmbedding, err)
		}
		if len(vectors) != len(texts) {
			return fail(StateEmbedding, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
		}
	}

	processedAt := p.now()
	chunks := make([]vectordb.Document, len(texts))
	for i, text := range texts {
		chunk := vectordb.Document{
			ID:          vectordb.ChunkID(doc.ID, i),
			FileID:      doc.ID,
			FileName:    doc.Name,
			Position:    i,
			TotalChunks: len(texts),
			Text:        text,
			ContentHash: doc.Signature,
			Vector:      vectors[i],
			CreatedAt:   processedAt,
		}
		chunk.Metadata = vectordb.BuildMetadata(chunk)
		chunks[i] = chunk
	}

	p.transition(doc.ID, StateUpserting)
	if err := p.store.DeleteByFileID(ctx, doc.ID); err != nil {
		return fail(StateUpserting, fmt.Errorf("remove previous chunks: %w", err))
	}
	if len(chunks) > 0 {
		if err := p.store.Upsert(ctx, chunks); err != nil {
			// 分批写入可能已部分成功，清理掉本次写入的分块
			if derr := p.store.DeleteByFileID(ctx, doc.ID); derr != nil {
				log.WithError(derr).Error("Failed to roll back partially written chunks")
			}
			return fail(StateUpserting, err)
		}
	}

	rec.MarkProcessed(doc.ID, doc.Name, doc.Signature, len(chunks), processedAt)
	p.transition(doc.ID, StateDone)

	log.WithField("chunks", len(chunks)).Info("Document processed")
	return nil
}

// RemoveDocument 删除已从数据源消失的文档的分块并移出处理记录
func (p *PipelineService) RemoveDocument(ctx context.Context, rec *tracker.Record, id string) error {
	entry, ok := rec.Get(id)
	if !ok {
		return nil
	}

	removeErr := func(err error) error {
		p.logger.WithField("doc_id", id).WithError(err).Warn("Failed to remove document chunks")
		return newProcessError(id, StateUpserting, fmt.Errorf("delete chunks: %w", err))
	}
	if entry.ChunkCount > 0 {
		if err := p.store.Delete(ctx, vectordb.ChunkIDs(id, entry.ChunkCount)); err != nil {
			return removeErr(err)
		}
	}
	// 失败的写入可能留下超出记录数量的分块
	if err := p.store.DeleteByFileID(ctx, id); err != nil {
		return removeErr(err)
	}

	rec.Remove(id)
	p.status.Forget(id)
	p.logger.WithFields(logrus.Fields{
		"doc_id": id,
		"chunks": entry.ChunkCount,
	}).Info("Document removed")
	return nil
}

// enqueue 进入QUEUED，已由扫描器排队或读取中的文档保持原状态
func (p *PipelineService) enqueue(docID string) {
	switch p.status.Get(docID).State {
	case StateQueued, StateReading:
		return
	}
	p.transition(docID, StateQueued)
}

func (p *PipelineService) transition(docID string, to State) {
	if err := p.status.Transition(docID, to); err != nil {
		p.logger.WithError(err).Debug("Unexpected state transition")
	}
}
