package embedding

import (
	"context"
	"errors"

	"github.com/fyerfyer/doc-ingest/pkg/ratelimit"
)

// RateLimitedClient 在每次请求前等待令牌，服务端限流时整体退避
type RateLimitedClient struct {
	Client
	limiter *ratelimit.Limiter
}

// NewRateLimitedClient 包装客户端，rps<=0时直接返回原客户端
func NewRateLimitedClient(client Client, rps float64) Client {
	if rps <= 0 {
		return client
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		Client:  client,
		limiter: ratelimit.New(ratelimit.Config{RequestsPerSecond: rps, BurstSize: burst}),
	}
}

// Embed 限流后生成单条向量
func (c *RateLimitedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vec, err := c.Client.Embed(ctx, text)
	c.observe(err)
	return vec, err
}

// EmbedBatch 限流后批量生成向量
func (c *RateLimitedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vecs, err := c.Client.EmbedBatch(ctx, texts)
	c.observe(err)
	return vecs, err
}

func (c *RateLimitedClient) observe(err error) {
	if errors.Is(err, ErrRateLimited) {
		c.limiter.RecordRateLimitError(0)
	}
}
