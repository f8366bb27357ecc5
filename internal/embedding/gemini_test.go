package embedding

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func newTestGemini(t *testing.T, fn embedFunc, opts ...Option) *GeminiClient {
	t.Helper()
	base := []Option{WithAPIKey("test-key"), WithRetryBackoff(time.Millisecond)}
	client, err := NewGeminiClient(append(base, opts...)...)
	require.NoError(t, err)
	gc := client.(*GeminiClient)
	gc.embed = fn
	t.Cleanup(func() { _ = gc.Close() })
	return gc
}

func TestGeminiEmbedBatch(t *testing.T) {
	var calls [][]string
	client := newTestGemini(t, func(ctx context.Context, texts []string) ([][]float32, error) {
		calls = append(calls, texts)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = []float32{float32(len(text)), 0, 1, 2}
		}
		return out, nil
	}, WithBatchSize(2))

	assert.Equal(t, DefaultGeminiModel, client.Name())
	assert.Equal(t, 0, client.Dimension())

	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Len(t, calls, 2)
	assert.Equal(t, 4, client.Dimension())
}

func TestGeminiRetriesResourceExhausted(t *testing.T) {
	attempts := 0
	client := newTestGemini(t, func(ctx context.Context, texts []string) ([][]float32, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("rpc error: code = ResourceExhausted desc = quota")
		}
		return [][]float32{{1}}, nil
	})

	_, err := client.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestGeminiErrors(t *testing.T) {
	client := newTestGemini(t, func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, &googleapi.Error{Code: http.StatusTooManyRequests}
	}, WithMaxRetries(0))
	_, err := client.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrRateLimited)

	client = newTestGemini(t, func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	})
	_, err = client.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrServiceError)

	client = newTestGemini(t, func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{}, nil
	})
	_, err = client.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrServiceError)
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGeminiClient()
	assert.Error(t, err)
}
