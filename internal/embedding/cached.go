package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 以模型和文本为键缓存向量
// 重复处理未变化的分块时不再调用嵌入服务
type CachedClient struct {
	Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 包装客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedClient{Client: client, cache: c, ttl: ttl, logger: logger}
}

func (c *CachedClient) key(text string) string {
	sum := sha256.Sum256([]byte(c.Client.Name() + "\x00" + text))
	return cache.GenerateCacheKey("emb", hex.EncodeToString(sum[:]))
}

// Embed 先查缓存
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch 只对未命中的文本请求服务，缓存错误不影响结果
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, text); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) > 0 {
		vecs, err := c.Client.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missing) {
			return nil, NewEmbeddingError(ErrCodeBadResponse,
				fmt.Sprintf("expected %d embeddings, got %d", len(missing), len(vecs)))
		}
		for j, vec := range vecs {
			results[missingIdx[j]] = vec
			if err := c.cache.Set(ctx, c.key(missing[j]), encodeVector(vec), c.ttl); err != nil {
				c.logger.WithError(err).Warn("Failed to cache embedding")
			}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"total": len(texts),
		"hits":  len(texts) - len(missing),
	}).Debug("Embedding cache lookup")
	return results, nil
}

func (c *CachedClient) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, found, err := c.cache.Get(ctx, c.key(text))
	if err != nil {
		c.logger.WithError(err).Warn("Embedding cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// encodeVector 小端float32序列，base64编码
func encodeVector(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector length %d", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
