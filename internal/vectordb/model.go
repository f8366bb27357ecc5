package vectordb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/doc-ingest/config"
)

// 常用错误定义
var (
	// ErrConnection 向量数据库无法连接
	ErrConnection = errors.New("vector store connection failed")
	// ErrIndexNotFound 索引（类）不存在
	ErrIndexNotFound = errors.New("vector index not found")

	ErrDocumentNotFound = errors.New("document not found")
	ErrEmptyVector      = errors.New("empty vector")
	ErrInvalidID        = errors.New("invalid document ID")
	ErrInvalidDimension = errors.New("vector dimension mismatch")
)

// Document 文档分块
// 包含向量表示及其元数据
type Document struct {
	ID          string                 `json:"id"`           // 分块ID，由文件ID和序号确定
	FileID      string                 `json:"file_id"`      // 所属文件ID
	FileName    string                 `json:"file_name"`    // 文件名
	Position    int                    `json:"position"`     // 在原文档中的分块序号
	TotalChunks int                    `json:"total_chunks"` // 文档的分块总数
	Text        string                 `json:"text"`         // 原始文本内容
	ContentHash string                 `json:"content_hash"` // 所属文件的内容指纹
	Vector      []float32              `json:"vector"`       // 向量表示
	CreatedAt   time.Time              `json:"created_at"`   // 处理时间
	Metadata    map[string]interface{} `json:"metadata"`     // 附加元数据
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// SearchResult 搜索结果
type SearchResult struct {
	Document Document `json:"document"` // 分块
	Score    float32  `json:"score"`    // 相似度得分
	Distance float32  `json:"distance"` // 计算的距离
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	FileIDs    []string               // 按文件ID过滤
	Metadata   map[string]interface{} // 按元数据过滤
	MinScore   float32                // 最小相似度分数，0表示不过滤
	MaxResults int                    // 最大返回结果数
}

// DefaultSearchFilter 返回默认的搜索过滤器
func DefaultSearchFilter() SearchFilter {
	return SearchFilter{
		MinScore:   0.0,
		MaxResults: 5,
	}
}

// Stats 向量库统计信息
type Stats struct {
	Type      string `json:"type"`
	IndexName string `json:"index_name"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
}

// Repository 向量数据库仓库接口
type Repository interface {
	// Upsert 写入分块，ID已存在时覆盖
	Upsert(ctx context.Context, docs []Document) error

	// Delete 按分块ID删除，不存在的ID忽略
	Delete(ctx context.Context, ids []string) error

	// DeleteByFileID 删除指定文件的所有分块
	DeleteByFileID(ctx context.Context, fileID string) error

	// Search 相似度搜索，结果按得分降序
	Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Stats 返回统计信息
	Stats(ctx context.Context) (Stats, error)

	// Dimension 返回向量维数
	Dimension() int

	// Ping 检查连接与索引
	Ping(ctx context.Context) error

	// Close 关闭数据库连接
	Close() error
}

// Config 向量数据库配置
type Config struct {
	Type              string       // 数据库类型："memory", "weaviate", "faiss"
	Host              string       // 服务地址
	Scheme            string       // http或https
	APIKey            string       // 托管服务密钥
	IndexName         string       // 索引（类）名称
	Path              string       // 本地持久化路径，为空时不落盘
	Dimension         int          // 向量维度
	DistanceType      DistanceType // 距离计算类型
	CreateIfNotExists bool         // 索引不存在时是否创建
}

// FromConfig 由应用配置生成向量库配置
func FromConfig(cfg config.VectorDBConfig) Config {
	return Config{
		Type:              cfg.Type,
		Host:              cfg.Host,
		Scheme:            cfg.Scheme,
		APIKey:            cfg.APIKey,
		IndexName:         cfg.IndexName,
		Path:              cfg.Path,
		Dimension:         cfg.Dimension,
		DistanceType:      DistanceType(cfg.Distance),
		CreateIfNotExists: true,
	}
}

// Factory 向量数据库工厂函数类型
type Factory func(config Config) (Repository, error)

// RepositoryRegistry 注册可用的向量数据库实现
var RepositoryRegistry = map[string]Factory{}

// RegisterRepository 注册向量数据库工厂函数
func RegisterRepository(name string, factory Factory) {
	RepositoryRegistry[name] = factory
}

// NewRepository 根据配置创建向量数据库实例
func NewRepository(config Config) (Repository, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, ok := RepositoryRegistry[config.Type]
	if !ok {
		return nil, fmt.Errorf("vector store type %q is not available in this build", config.Type)
	}
	return factory(config)
}
