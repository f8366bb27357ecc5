package services

import (
	"context"
	"errors"
	"testing"

	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 10))
	h.write(t, "b.md", "bbbbbb bbbb")
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)

	svc := NewSearchService(h.embedder, h.store, 0, 0, quietLogger())
	hits, err := svc.Search(context.Background(), "  bbbbbb bbbb ", 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), 5)
	assert.Equal(t, "b.md", hits[0].FileID)
	assert.Equal(t, "bbbbbb bbbb", hits[0].Text)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = svc.Search(context.Background(), "alpha", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = svc.Search(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchEmbeddingError(t *testing.T) {
	h := newHarness(t)
	h.embedder.ExpectedCalls = nil
	h.embedder.On("Embed", mock.Anything, mock.Anything).Return(embedding.NewEmbeddingError(embedding.ErrCodeRateLimited, "slow"))

	_, err := NewSearchService(h.embedder, h.store, 5, 0, quietLogger()).Search(context.Background(), "query", 0)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, embedding.ErrRateLimited)
}

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error { return errors.New("unreachable") }

func TestDashboardStats(t *testing.T) {
	h := newHarness(t, WithScanRepository(newScanRepository(t)))
	h.write(t, "a.md", longText("alpha", 10))
	h.write(t, "b.md", "bravo")
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	h.write(t, "c.md", "charlie")

	scheduler := NewScheduler(h.scanner, 0, true, quietLogger())
	svc := NewDashboardService(h.source, h.embedder, h.store, h.scanner, scheduler, quietLogger())

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalFiles)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Unprocessed)
	assert.Equal(t, h.store.count(t), stats.TotalChunks)
	assert.Equal(t, source.TypeLocal, stats.SourceType)
	assert.NotNil(t, stats.LastUpdated)
	require.NotNil(t, stats.LastScan)
	assert.Equal(t, 2, stats.LastScan.Processed)
	assert.True(t, stats.AutoScan.Enabled)
	require.NotNil(t, stats.VectorStore)
	assert.Equal(t, "memory", stats.VectorStore.Type)
	assert.False(t, stats.ScanRunning)
}

func TestDashboardConnections(t *testing.T) {
	h := newHarness(t)
	svc := NewDashboardService(h.source, h.embedder, h.store, h.scanner, nil, quietLogger())

	conns := svc.Connections(context.Background())
	require.Len(t, conns, 3)
	assert.True(t, Healthy(conns))
	assert.Equal(t, "source", conns[0].Name)

	svc.AddCheck("cache", failingPinger{})
	conns = svc.Connections(context.Background())
	require.Len(t, conns, 4)
	assert.False(t, Healthy(conns))
	assert.Equal(t, "cache", conns[3].Name)
	assert.Equal(t, "unreachable", conns[3].Error)
}
