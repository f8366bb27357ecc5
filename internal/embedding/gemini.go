package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DefaultGeminiModel Gemini默认嵌入模型
const DefaultGeminiModel = "text-embedding-004"

// geminiBatchLimit 单次批量请求的条数上限
const geminiBatchLimit = 100

// embedFunc 实际发起请求的函数，测试时替换
type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// GeminiClient Google Gemini嵌入客户端
type GeminiClient struct {
	client *genai.Client
	embed  embedFunc
	config Config
	dim    atomic.Int64
}

// NewGeminiClient 创建Gemini嵌入客户端
func NewGeminiClient(opts ...Option) (Client, error) {
	config := NewConfig(opts...)
	if config.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, "Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}
	if config.BatchSize > geminiBatchLimit {
		config.BatchSize = geminiBatchLimit
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(config.BaseURL))
	}
	client, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeNetworkError, err.Error())
	}

	c := &GeminiClient{client: client, config: *config}
	c.embed = c.embedRemote
	if config.Dimensions > 0 {
		c.dim.Store(int64(config.Dimensions))
	}
	return c, nil
}

// Name 返回模型名称
func (c *GeminiClient) Name() string {
	return c.config.Model
}

// Dimension 返回向量维度，首次成功请求后可知
func (c *GeminiClient) Dimension() int {
	return int(c.dim.Load())
}

// Embed 对单个文本生成嵌入向量
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 分批调用BatchEmbedContents
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, NewEmbeddingError(ErrCodeEmptyInput, fmt.Sprintf("text at index %d is empty", i))
		}
	}

	results := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, c.config.BatchSize) {
		vectors, err := c.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (c *GeminiClient) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.config.RetryBackoff, attempt-1); err != nil {
				return nil, err
			}
		}

		vectors, err := c.embed(ctx, batch)
		if err == nil {
			if len(vectors) != len(batch) {
				return nil, NewEmbeddingError(ErrCodeBadResponse,
					fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(vectors)))
			}
			c.dim.Store(int64(len(vectors[0])))
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = classifyGeminiError(err)
		if !errors.Is(lastErr, ErrRateLimited) {
			return nil, lastErr
		}
		c.config.Logger.WithFields(logrus.Fields{
			"model":   c.config.Model,
			"attempt": attempt + 1,
		}).Warn("Gemini embedding rate limited")
	}
	return nil, lastErr
}

func (c *GeminiClient) embedRemote(ctx context.Context, texts []string) ([][]float32, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	em := c.client.EmbeddingModel(c.config.Model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	res, err := em.BatchEmbedContents(timeoutCtx, batch)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("embedding %d is empty", i))
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Ping 生成一条试探向量
func (c *GeminiClient) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, "connection test")
	return err
}

// Close 关闭底层连接
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// classifyGeminiError gRPC与REST两种传输的限流错误都要识别
func classifyGeminiError(err error) error {
	var embErr EmbeddingError
	if errors.As(err, &embErr) {
		return embErr
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return NewEmbeddingError(ErrCodeRateLimited, err.Error())
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewEmbeddingError(ErrCodeInvalidAPIKey, err.Error())
		}
		return NewEmbeddingError(ErrCodeServerError, err.Error())
	}

	msg := err.Error()
	if strings.Contains(msg, "ResourceExhausted") || strings.Contains(msg, "RESOURCE_EXHAUSTED") {
		return NewEmbeddingError(ErrCodeRateLimited, msg)
	}
	return NewEmbeddingError(ErrCodeServerError, msg)
}

func init() {
	RegisterClient("gemini", NewGeminiClient)
}
