package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// SearchHit 相似度搜索结果
type SearchHit struct {
	ChunkID  string  `json:"chunk_id"`
	FileID   string  `json:"file_id"`
	FileName string  `json:"file_name"`
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// SearchService 向量相似度搜索
type SearchService struct {
	embedder    embedding.Client
	store       vectordb.Repository
	defaultTopK int
	maxTopK     int
	minScore    float32
	logger      *logrus.Logger
}

// NewSearchService 创建搜索服务，defaultTopK<=0时为5
func NewSearchService(embedder embedding.Client, store vectordb.Repository, defaultTopK int, minScore float32, logger *logrus.Logger) *SearchService {
	if defaultTopK <= 0 {
		defaultTopK = vectordb.DefaultSearchFilter().MaxResults
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SearchService{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		maxTopK:     50,
		minScore:    minScore,
		logger:      logger,
	}
}

// Search 向量化查询并返回最相似的topK个分块
func (s *SearchService) Search(ctx context.Context, query string, topK int) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = s.defaultTopK
	}
	if topK > s.maxTopK {
		topK = s.maxTopK
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailure, err)
	}

	results, err := s.store.Search(ctx, vector, vectordb.SearchFilter{
		MaxResults: topK,
		MinScore:   s.minScore,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{
			ChunkID:  r.Document.ID,
			FileID:   r.Document.FileID,
			FileName: r.Document.FileName,
			Position: r.Document.Position,
			Text:     r.Document.Text,
			Score:    r.Score,
		}
	}
	s.logger.WithFields(logrus.Fields{"top_k": topK, "hits": len(hits)}).Debug("Search completed")
	return hits, nil
}
