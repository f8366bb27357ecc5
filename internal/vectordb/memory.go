package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// MemoryRepository 内存向量仓库实现
// 暴力检索，适合开发、测试和小规模知识库；配置Path时每次写入后落盘
type MemoryRepository struct {
	mu        sync.RWMutex
	docs      map[string]Document
	byFile    map[string]map[string]struct{}
	dimension int
	distType  DistanceType
	indexName string
	path      string
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	if err := validateDistance(distType); err != nil {
		return nil, err
	}

	repo := &MemoryRepository{
		docs:      make(map[string]Document),
		byFile:    make(map[string]map[string]struct{}),
		dimension: config.Dimension,
		distType:  distType,
		indexName: config.IndexName,
	}
	if config.Path != "" {
		repo.path = config.Path + ".json"
		if err := repo.load(); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// Upsert 写入分块，ID已存在时覆盖
func (r *MemoryRepository) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	docs = append([]Document(nil), docs...)
	if err := prepareDocuments(docs, r.dimension); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, doc := range docs {
		if old, ok := r.docs[doc.ID]; ok {
			r.unindex(old)
		}
		r.docs[doc.ID] = doc
		ids, ok := r.byFile[doc.FileID]
		if !ok {
			ids = make(map[string]struct{})
			r.byFile[doc.FileID] = ids
		}
		ids[doc.ID] = struct{}{}
	}
	return r.persist()
}

func (r *MemoryRepository) unindex(doc Document) {
	if ids, ok := r.byFile[doc.FileID]; ok {
		delete(ids, doc.ID)
		if len(ids) == 0 {
			delete(r.byFile, doc.FileID)
		}
	}
}

// Delete 按ID删除分块
func (r *MemoryRepository) Delete(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		doc, ok := r.docs[id]
		if !ok {
			continue
		}
		delete(r.docs, id)
		r.unindex(doc)
		removed++
	}
	if removed == 0 {
		return nil
	}
	return r.persist()
}

// DeleteByFileID 删除指定文件的所有分块
func (r *MemoryRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.byFile[fileID]
	if !ok {
		return nil
	}
	for id := range ids {
		delete(r.docs, id)
	}
	delete(r.byFile, fileID)
	return r.persist()
}

// Search 相似度搜索
func (r *MemoryRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]SearchResult, 0, len(r.docs))
	for _, doc := range r.docs {
		if !matchFilter(doc, filter) {
			continue
		}
		dist, err := ComputeDistance(vector, doc.Vector, r.distType)
		if err != nil {
			return nil, err
		}
		score := DistanceToScore(dist, r.distType)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score, Distance: dist})
	}

	SortSearchResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats 返回统计信息
func (r *MemoryRepository) Stats(ctx context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Type:      "memory",
		IndexName: r.indexName,
		Count:     len(r.docs),
		Dimension: r.dimension,
	}, nil
}

// FileIDs 返回已存储分块的文件ID，按字典序
func (r *MemoryRepository) FileIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byFile))
	for id := range r.byFile {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Dimension 返回向量维数
func (r *MemoryRepository) Dimension() int {
	return r.dimension
}

// Ping 内存实现总是可用
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close 关闭仓库
func (r *MemoryRepository) Close() error {
	return nil
}

type memorySnapshot struct {
	Dimension int        `json:"dimension"`
	Documents []Document `json:"documents"`
}

// persist 调用方持有写锁
func (r *MemoryRepository) persist() error {
	if r.path == "" {
		return nil
	}
	snap := memorySnapshot{Dimension: r.dimension, Documents: make([]Document, 0, len(r.docs))}
	for _, doc := range r.docs {
		snap.Documents = append(snap.Documents, doc)
	}
	sort.Slice(snap.Documents, func(i, j int) bool { return snap.Documents[i].ID < snap.Documents[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal vectors: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write vectors: %v", err)
	}
	return os.Rename(tmp, r.path)
}

func (r *MemoryRepository) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read vectors: %v", err)
	}

	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to parse %s: %v", r.path, err)
	}
	if r.dimension > 0 && snap.Dimension > 0 && snap.Dimension != r.dimension {
		return fmt.Errorf("%w: %s was built with dimension %d, configured %d",
			ErrInvalidDimension, r.path, snap.Dimension, r.dimension)
	}
	for _, doc := range snap.Documents {
		r.docs[doc.ID] = doc
		ids, ok := r.byFile[doc.FileID]
		if !ok {
			ids = make(map[string]struct{})
			r.byFile[doc.FileID] = ids
		}
		ids[doc.ID] = struct{}{}
	}
	return nil
}

func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
