package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// DefaultOpenAIModel OpenAI默认嵌入模型
const DefaultOpenAIModel = "text-embedding-3-small"

// 已知模型的默认维度
var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIClient OpenAI嵌入向量客户端
// 通过BaseURL也可以访问兼容OpenAI协议的服务
type OpenAIClient struct {
	client *openai.Client
	config Config
	dim    atomic.Int64
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	config := NewConfig(opts...)
	if config.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, "OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	c := &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: *config,
	}
	switch {
	case config.Dimensions > 0:
		c.dim.Store(int64(config.Dimensions))
	case openAIModelDimensions[config.Model] > 0:
		c.dim.Store(int64(openAIModelDimensions[config.Model]))
	}
	return c, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.config.Model
}

// Dimension 返回向量维度
func (c *OpenAIClient) Dimension() int {
	return int(c.dim.Load())
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 按BatchSize分批请求，结果顺序与输入一致
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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
		vectors, err := c.createWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}

// createWithRetry 发送一批请求，限流时指数退避重试
func (c *OpenAIClient) createWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, c.config.RetryBackoff, attempt-1); err != nil {
				return nil, err
			}
		}

		vectors, err := c.create(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			return nil, err
		}

		c.config.Logger.WithFields(logrus.Fields{
			"model":   c.config.Model,
			"attempt": attempt + 1,
			"batch":   len(batch),
		}).Warn("Embedding request rate limited")
	}
	return nil, lastErr
}

func (c *OpenAIClient) create(ctx context.Context, batch []string) ([][]float32, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(timeoutCtx, openai.EmbeddingRequestStrings{
		Input:      batch,
		Model:      openai.EmbeddingModel(c.config.Model),
		Dimensions: c.config.Dimensions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(batch) {
		return nil, NewEmbeddingError(ErrCodeBadResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("embedding %d is empty", i))
		}
		vectors[i] = d.Embedding
	}
	c.dim.Store(int64(len(vectors[0])))
	return vectors, nil
}

// Ping 生成一条试探向量
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.Embed(ctx, "connection test")
	return err
}

// classifyOpenAIError 按HTTP状态码归类错误
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests:
		return NewEmbeddingError(ErrCodeRateLimited, err.Error())
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewEmbeddingError(ErrCodeInvalidAPIKey, err.Error())
	case 0:
		return NewEmbeddingError(ErrCodeNetworkError, err.Error())
	default:
		return NewEmbeddingError(ErrCodeServerError, err.Error())
	}
}

func init() {
	RegisterClient("openai", NewOpenAIClient)
}
