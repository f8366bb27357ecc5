package vectordb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviate类属性名
const (
	propText          = "text"
	propFileID        = "fileId"
	propFileName      = "fileName"
	propChunkIndex    = "chunkIndex"
	propTotalChunks   = "totalChunks"
	propContentHash   = "contentHash"
	propProcessedDate = "processedDate"

	weaviateBatchSize = 100
	weaviateTimeout   = 30 * time.Second
)

// WeaviateRepository 基于Weaviate的向量仓库
// 向量由调用方提供，类的vectorizer为none
type WeaviateRepository struct {
	client    *weaviate.Client
	className string
	dimension int
	distType  DistanceType
}

// NewWeaviateRepository 创建Weaviate仓库，CreateIfNotExists时确保类存在
func NewWeaviateRepository(config Config) (Repository, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("weaviate host is required")
	}
	if config.IndexName == "" {
		return nil, fmt.Errorf("weaviate index name is required")
	}
	distType := config.DistanceType
	if distType == "" {
		distType = Cosine
	}
	if err := validateDistance(distType); err != nil {
		return nil, err
	}
	scheme := config.Scheme
	if scheme == "" {
		scheme = "http"
	}

	wcfg := weaviate.Config{
		Host:    config.Host,
		Scheme:  scheme,
		Timeout: weaviateTimeout,
	}
	if config.APIKey != "" {
		wcfg.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	repo := &WeaviateRepository{
		client:    client,
		className: className(config.IndexName),
		dimension: config.Dimension,
		distType:  distType,
	}

	if config.CreateIfNotExists {
		ctx, cancel := context.WithTimeout(context.Background(), weaviateTimeout)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// className Weaviate类名必须以大写字母开头
func className(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// EnsureSchema 类不存在时创建
func (r *WeaviateRepository) EnsureSchema(ctx context.Context) error {
	exists, err := r.client.Schema().ClassExistenceChecker().WithClassName(r.className).Do(ctx)
	if err != nil {
		return classifyWeaviateError(err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       r.className,
		Description: "Embedded chunk of a source document",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": weaviateDistance(r.distType),
		},
		Properties: []*models.Property{
			{Name: propText, DataType: []string{"text"}},
			{Name: propFileID, DataType: []string{"text"}, Tokenization: "field"},
			{Name: propFileName, DataType: []string{"text"}, Tokenization: "field"},
			{Name: propChunkIndex, DataType: []string{"int"}},
			{Name: propTotalChunks, DataType: []string{"int"}},
			{Name: propContentHash, DataType: []string{"text"}, Tokenization: "field"},
			{Name: propProcessedDate, DataType: []string{"date"}},
		},
	}
	if err := r.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return classifyWeaviateError(err)
	}
	return nil
}

func weaviateDistance(d DistanceType) string {
	switch d {
	case DotProduct:
		return "dot"
	case Euclidean:
		return "l2-squared"
	default:
		return "cosine"
	}
}

// Upsert 按批写入，对象ID即分块ID，重复写入覆盖
func (r *WeaviateRepository) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	docs = append([]Document(nil), docs...)
	if err := prepareDocuments(docs, r.dimension); err != nil {
		return err
	}

	for start := 0; start < len(docs); start += weaviateBatchSize {
		end := start + weaviateBatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batcher := r.client.Batch().ObjectsBatcher()
		for _, doc := range docs[start:end] {
			batcher = batcher.WithObjects(&models.Object{
				Class:      r.className,
				ID:         strfmt.UUID(doc.ID),
				Vector:     doc.Vector,
				Properties: r.properties(doc),
			})
		}

		resp, err := batcher.Do(ctx)
		if err != nil {
			return classifyWeaviateError(err)
		}
		for _, obj := range resp {
			if obj.Result == nil || obj.Result.Errors == nil {
				continue
			}
			for _, item := range obj.Result.Errors.Error {
				if item != nil {
					return fmt.Errorf("weaviate rejected object %s: %s", obj.ID, item.Message)
				}
			}
		}
	}
	return nil
}

func (r *WeaviateRepository) properties(doc Document) map[string]interface{} {
	return map[string]interface{}{
		propText:          doc.Text,
		propFileID:        doc.FileID,
		propFileName:      doc.FileName,
		propChunkIndex:    doc.Position,
		propTotalChunks:   doc.TotalChunks,
		propContentHash:   doc.ContentHash,
		propProcessedDate: doc.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Delete 逐个删除对象，不存在的忽略
func (r *WeaviateRepository) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		err := r.client.Data().Deleter().
			WithClassName(r.className).
			WithID(id).
			Do(ctx)
		if err != nil && statusCode(err) != http.StatusNotFound {
			return classifyWeaviateError(err)
		}
	}
	return nil
}

// DeleteByFileID 按fileId批量删除
func (r *WeaviateRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	_, err := r.client.Batch().ObjectsBatchDeleter().
		WithClassName(r.className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{propFileID}).
			WithOperator(filters.Equal).
			WithValueText(fileID)).
		Do(ctx)
	if err != nil {
		return classifyWeaviateError(err)
	}
	return nil
}

// Search nearVector检索
func (r *WeaviateRepository) Search(ctx context.Context, vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	k := filter.MaxResults
	if k <= 0 {
		k = DefaultSearchFilter().MaxResults
	}

	fields := []graphql.Field{
		{Name: propText},
		{Name: propFileID},
		{Name: propFileName},
		{Name: propChunkIndex},
		{Name: propTotalChunks},
		{Name: propContentHash},
		{Name: propProcessedDate},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	query := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithNearVector(r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k)
	if len(filter.FileIDs) > 0 {
		query = query.WithWhere(filters.Where().
			WithPath([]string{propFileID}).
			WithOperator(filters.ContainsAny).
			WithValueText(filter.FileIDs...))
	}

	resp, err := query.Do(ctx)
	if err != nil {
		return nil, classifyWeaviateError(err)
	}
	if len(resp.Errors) > 0 {
		return nil, graphQLError(resp.Errors)
	}

	var results []SearchResult
	get, _ := resp.Data["Get"].(map[string]interface{})
	items, _ := get[r.className].([]interface{})
	for _, item := range items {
		props, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		doc, dist := r.parseObject(props)
		if !matchMetadata(doc.Metadata, filter.Metadata) {
			continue
		}
		score := DistanceToScore(dist, r.distType)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score, Distance: dist})
	}
	SortSearchResults(results)
	return results, nil
}

func (r *WeaviateRepository) parseObject(props map[string]interface{}) (Document, float32) {
	doc := Document{}
	doc.Text, _ = props[propText].(string)
	doc.FileID, _ = props[propFileID].(string)
	doc.FileName, _ = props[propFileName].(string)
	doc.ContentHash, _ = props[propContentHash].(string)
	if v, ok := props[propChunkIndex].(float64); ok {
		doc.Position = int(v)
	}
	if v, ok := props[propTotalChunks].(float64); ok {
		doc.TotalChunks = int(v)
	}
	if v, ok := props[propProcessedDate].(string); ok {
		doc.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}

	var dist float32
	if additional, ok := props["_additional"].(map[string]interface{}); ok {
		doc.ID, _ = additional["id"].(string)
		if d, ok := additional["distance"].(float64); ok {
			dist = float32(d)
		}
	}
	if r.distType == Euclidean {
		dist = float32(math.Sqrt(float64(dist)))
	}
	doc.Metadata = BuildMetadata(doc)
	return doc, dist
}

// Stats 通过Aggregate查询对象数量
func (r *WeaviateRepository) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Type: "weaviate", IndexName: r.className, Dimension: r.dimension}

	resp, err := r.client.GraphQL().Aggregate().
		WithClassName(r.className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return stats, classifyWeaviateError(err)
	}
	if len(resp.Errors) > 0 {
		return stats, graphQLError(resp.Errors)
	}

	agg, _ := resp.Data["Aggregate"].(map[string]interface{})
	rows, _ := agg[r.className].([]interface{})
	if len(rows) > 0 {
		row, _ := rows[0].(map[string]interface{})
		meta, _ := row["meta"].(map[string]interface{})
		if count, ok := meta["count"].(float64); ok {
			stats.Count = int(count)
		}
	}
	return stats, nil
}

// Dimension 返回向量维数
func (r *WeaviateRepository) Dimension() int {
	return r.dimension
}

// Ping 检查服务存活且类存在
func (r *WeaviateRepository) Ping(ctx context.Context) error {
	live, err := r.client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return classifyWeaviateError(err)
	}
	if !live {
		return fmt.Errorf("%w: weaviate is not live", ErrConnection)
	}
	exists, err := r.client.Schema().ClassExistenceChecker().WithClassName(r.className).Do(ctx)
	if err != nil {
		return classifyWeaviateError(err)
	}
	if !exists {
		return fmt.Errorf("%w: class %s", ErrIndexNotFound, r.className)
	}
	return nil
}

// Close Weaviate客户端无需关闭
func (r *WeaviateRepository) Close() error {
	return nil
}

func statusCode(err error) int {
	var werr *fault.WeaviateClientError
	if errors.As(err, &werr) {
		return werr.StatusCode
	}
	return 0
}

// classifyWeaviateError 区分连接失败、类不存在和其他错误
func classifyWeaviateError(err error) error {
	var werr *fault.WeaviateClientError
	if !errors.As(err, &werr) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	switch {
	case !werr.IsUnexpectedStatusCode && werr.DerivedFromError != nil:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	case werr.StatusCode == http.StatusNotFound,
		strings.Contains(strings.ToLower(werr.Msg), "class") && strings.Contains(strings.ToLower(werr.Msg), "not"):
		return fmt.Errorf("%w: %v", ErrIndexNotFound, err)
	case werr.StatusCode == http.StatusUnauthorized, werr.StatusCode == http.StatusForbidden,
		werr.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	default:
		return fmt.Errorf("weaviate: %w", err)
	}
}

func graphQLError(errs []*models.GraphQLError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	msg := strings.Join(msgs, "; ")
	if strings.Contains(msg, "Cannot query field") {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, msg)
	}
	return fmt.Errorf("weaviate graphql: %s", msg)
}

func init() {
	RegisterRepository("weaviate", NewWeaviateRepository)
}
