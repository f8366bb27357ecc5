//go:build faiss

package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
)

// FaissRepository 基于Faiss平坦索引的本地向量仓库
// 需要cgo和libfaiss_c，使用 -tags faiss 构建
type FaissRepository struct {
	mu        sync.RWMutex
	index     faiss.Index
	documents map[string]Document
	positions []string // 索引位置到分块ID
	indexPath string
	metaPath  string
	indexName string
	dimension int
	distType  DistanceType
}

// NewFaissRepository 创建Faiss仓库，存在索引文件时加载
func NewFaissRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	if err := validateDistance(distType); err != nil {
		return nil, err
	}

	repo := &FaissRepository{
		documents: make(map[string]Document),
		indexName: config.IndexName,
		dimension: config.Dimension,
		distType:  distType,
	}
	if config.Path != "" {
		repo.indexPath = config.Path + ".faiss"
		repo.metaPath = config.Path + ".meta.json"
		if err := os.MkdirAll(filepath.Dir(repo.indexPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
	}

	if repo.indexPath != "" && fileExists(repo.indexPath) {
		index, err := faiss.ReadIndex(repo.indexPath, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to read index file: %v", err)
		}
		repo.index = index
		if err := repo.loadMetadata(); err != nil {
			index.Delete()
			return nil, err
		}
		return repo, nil
	}

	index, err := repo.newIndex()
	if err != nil {
		return nil, err
	}
	repo.index = index
	return repo, nil
}

func (r *FaissRepository) newIndex() (faiss.Index, error) {
	metric := faiss.MetricInnerProduct
	if r.distType == Euclidean {
		metric = faiss.MetricL2
	}
	index, err := faiss.NewIndexFlat(r.dimension, metric)
	if err != nil {
		return nil, fmt.Errorf("failed to create Faiss index: %v", err)
	}
	return index, nil
}

func (r *FaissRepository) prepare(v []float32) []float32 {
	if r.distType == Cosine {
		return normalizeVector(v)
	}
	return v
}

// Upsert 平坦索引不支持原地更新，覆盖已有ID时重建索引
func (r *FaissRepository) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	docs = append([]Document(nil), docs...)
	if err := prepareDocuments(docs, r.dimension); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for _, doc := range docs {
		if _, ok := r.documents[doc.ID]; ok {
			replaced = true
			break
		}
	}

	if replaced {
		for _, doc := range docs {
			r.documents[doc.ID] = doc
		}
		return r.rebuild()
	}

	flat := make([]float32, 0, len(docs)*r.dimension)
	for _, doc := range docs {
		flat = append(flat, r.prepare(doc.Vector)...)
	}
	if err := r.index.Add(flat); err != nil {
		return fmt.Errorf("failed to add vectors to index: %v", err)
	}
	for _, doc := range docs {
		r.documents[doc.ID] = doc
		r.positions = append(r.positions, doc.ID)
	}
	return r.save()
}

// Delete 删除分块后重建索引
func (r *FaissRepository) Delete(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if _, ok := r.documents[id]; ok {
			delete(r.documents, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return r.rebuild()
}

// DeleteByFileID 删除文件的全部分块
func (r *FaissRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, doc := range r.documents {
		if doc.FileID == fileID {
			delete(r.documents, id)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return r.rebuild()
}

// rebuild 按当前文档重建索引，调用方持有写锁
func (r *FaissRepository) rebuild() error {
	index, err := r.newIndex()
	if err != nil {
		return err
	}

	positions := make([]string, 0, len(r.documents))
	flat := make([]float32, 0, len(r.documents)*r.dimension)
	for id, doc := range r.documents {
		positions = append(positions, id)
		flat = append(flat, r.prepare(doc.Vector)...)
	}
	if len(flat) > 0 {
		if err := index.Add(flat); err != nil {
			index.Delete()
			return fmt.Errorf("failed to rebuild index: %v", err)
		}
	}

	r.index.Delete()
	r.index = index
	r.positions = positions
	return r.save()
}

// Search 相似度搜索，有过滤条件时多取一些候选
func (r *FaissRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	total := int(r.index.Ntotal())
	if total == 0 {
		return []SearchResult{}, nil
	}
	limit := k
	if len(filter.FileIDs) > 0 || len(filter.Metadata) > 0 {
		limit = total
	}
	if limit > total {
		limit = total
	}

	distances, labels, err := r.index.Search(r.prepare(vector), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %v", err)
	}

	var results []SearchResult
	for i, label := range labels {
		if label < 0 || int(label) >= len(r.positions) {
			continue
		}
		doc, ok := r.documents[r.positions[label]]
		if !ok || !matchFilter(doc, filter) {
			continue
		}

		dist := distances[i]
		switch r.distType {
		case Cosine:
			// 内积即余弦相似度
			dist = 1 - dist
		case Euclidean:
			// IndexFlatL2返回平方距离
			dist = float32(math.Sqrt(float64(dist)))
		}
		score := DistanceToScore(dist, r.distType)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score, Distance: dist})
		if len(results) >= k {
			break
		}
	}
	SortSearchResults(results)
	return results, nil
}

// Stats 返回统计信息
func (r *FaissRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Type: "faiss", IndexName: r.indexName, Count: len(r.documents), Dimension: r.dimension}, nil
}

// Dimension 返回向量维数
func (r *FaissRepository) Dimension() int {
	return r.dimension
}

// Ping 本地索引总是可用
func (r *FaissRepository) Ping(ctx context.Context) error {
	return nil
}

// Close 保存并释放索引
func (r *FaissRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.save(); err != nil {
		return err
	}
	r.index.Delete()
	return nil
}

type faissMeta struct {
	Documents map[string]Document `json:"documents"`
	Positions []string            `json:"positions"`
}

// save 写入索引和元数据文件
func (r *FaissRepository) save() error {
	if r.indexPath == "" {
		return nil
	}
	if err := faiss.WriteIndex(r.index, r.indexPath); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}
	data, err := json.Marshal(faissMeta{Documents: r.documents, Positions: r.positions})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	if err := os.WriteFile(r.metaPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}
	return nil
}

func (r *FaissRepository) loadMetadata() error {
	data, err := os.ReadFile(r.metaPath)
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}
	var meta faissMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}
	if int64(len(meta.Positions)) != r.index.Ntotal() {
		return fmt.Errorf("index %s has %d vectors but metadata lists %d", r.indexPath, r.index.Ntotal(), len(meta.Positions))
	}
	if meta.Documents == nil {
		meta.Documents = make(map[string]Document)
	}
	r.documents = meta.Documents
	r.positions = meta.Positions
	return nil
}

// fileExists 检查文件是否存在
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func init() {
	RegisterRepository("faiss", NewFaissRepository)
}
