package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testDocument(id, content string) source.Document {
	return source.Document{
		Entry:   source.Entry{ID: id, Name: id, Signature: "sig-" + content},
		Content: content,
	}
}

func TestProcessDocumentWritesChunks(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	h.pipeline.now = func() time.Time { return at }
	rec := tracker.NewRecord()

	doc := testDocument("guide.md", longText("alpha", 10))
	require.NoError(t, h.pipeline.ProcessDocument(context.Background(), rec, doc))

	entry, ok := rec.Get("guide.md")
	require.True(t, ok)
	assert.Equal(t, doc.Signature, entry.Signature)
	assert.Equal(t, at, entry.ProcessedAt)

	chunks := h.store.chunksOf(t, "guide.md")
	require.Len(t, chunks, entry.ChunkCount)
	byPosition := make(map[int]vectordb.Document)
	for _, c := range chunks {
		byPosition[c.Document.Position] = c.Document
	}
	for i := 0; i < entry.ChunkCount; i++ {
		c, ok := byPosition[i]
		require.True(t, ok)
		assert.Equal(t, vectordb.ChunkID("guide.md", i), c.ID)
		assert.Equal(t, entry.ChunkCount, c.TotalChunks)
		assert.Equal(t, doc.Signature, c.ContentHash)
		assert.Equal(t, "guide.md", c.Metadata["source"])
		assert.Equal(t, at.Format(time.RFC3339), c.Metadata["processed_date"])
	}
}

func TestProcessDocumentDeterministic(t *testing.T) {
	first, second := newHarness(t), newHarness(t)
	doc := testDocument("a.md", longText("alpha", 10))

	require.NoError(t, first.pipeline.ProcessDocument(context.Background(), tracker.NewRecord(), doc))
	require.NoError(t, second.pipeline.ProcessDocument(context.Background(), tracker.NewRecord(), doc))

	a, b := first.store.chunksOf(t, "a.md"), second.store.chunksOf(t, "a.md")
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Document.ID, b[i].Document.ID)
		assert.Equal(t, a[i].Document.Text, b[i].Document.Text)
		assert.Equal(t, a[i].Document.Vector, b[i].Document.Vector)
	}
}

func TestProcessDocumentEmbeddingFailure(t *testing.T) {
	h := newHarness(t)
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(embedding.NewEmbeddingError(embedding.ErrCodeServerError, "boom"))

	rec := tracker.NewRecord()
	err := h.pipeline.ProcessDocument(context.Background(), rec, testDocument("a.md", "alpha"))
	require.Error(t, err)

	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "a.md", perr.DocID)
	assert.Equal(t, StateEmbedding, perr.Stage)
	assert.ErrorIs(t, err, ErrEmbeddingFailure)
	assert.ErrorIs(t, err, embedding.ErrServiceError)

	assert.Equal(t, 0, rec.Len())
	assert.Equal(t, 0, h.store.Upserts())
	assert.Empty(t, h.store.fileDels)
}

func TestProcessDocumentUpsertFailure(t *testing.T) {
	h := newHarness(t)
	rec := tracker.NewRecord()
	rec.MarkProcessed("a.md", "a.md", "old", 1, time.Now())
	before := rec.Clone()

	h.store.upsertErr = vectordb.ErrConnection
	err := h.pipeline.ProcessDocument(context.Background(), rec, testDocument("a.md", "alpha"))
	assert.ErrorIs(t, err, ErrUpsertFailure)
	assert.ErrorIs(t, err, vectordb.ErrConnection)
	assert.Equal(t, before.Entries, rec.Entries)
	assert.Equal(t, StateFailed, h.pipeline.Status().Get("a.md").State)
}

func TestProcessDocumentPartialUpsertRollsBack(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = errors.New("batch 2 rejected")
	h.store.written = 1

	rec := tracker.NewRecord()
	err := h.pipeline.ProcessDocument(context.Background(), rec, testDocument("a.md", longText("alpha", 20)))
	assert.ErrorIs(t, err, ErrUpsertFailure)

	// 已写入的分块被清理，文档没有留下任何分块
	assert.Empty(t, h.store.chunksOf(t, "a.md"))
	assert.Equal(t, 0, h.store.count(t))
	assert.Equal(t, 0, rec.Len())
	assert.Equal(t, []string{"a.md", "a.md"}, h.store.fileDels)
}

func TestProcessDocumentChunkingFailure(t *testing.T) {
	h := newHarness(t)
	h.pipeline.splitter = document.NewTextSplitter(document.SplitterConfig{ChunkSize: 10, ChunkOverlap: 10})

	err := h.pipeline.ProcessDocument(context.Background(), tracker.NewRecord(), testDocument("a.md", "alpha"))
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, StateChunking, perr.Stage)
	assert.NotErrorIs(t, err, ErrEmbeddingFailure)
	assert.Equal(t, 0, h.embedCalls())
}

func TestRemoveDocument(t *testing.T) {
	h := newHarness(t)
	rec := tracker.NewRecord()
	ctx := context.Background()
	require.NoError(t, h.pipeline.ProcessDocument(ctx, rec, testDocument("a.md", longText("alpha", 10))))
	count := rec.Entries["a.md"].ChunkCount

	h.store.deleteErr = vectordb.ErrConnection
	err := h.pipeline.RemoveDocument(ctx, rec, "a.md")
	assert.ErrorIs(t, err, ErrUpsertFailure)
	_, ok := rec.Get("a.md")
	assert.True(t, ok)

	h.store.deleteErr = nil
	require.NoError(t, h.pipeline.RemoveDocument(ctx, rec, "a.md"))
	_, ok = rec.Get("a.md")
	assert.False(t, ok)
	assert.Equal(t, vectordb.ChunkIDs("a.md", count), h.store.deletes[len(h.store.deletes)-1])
	assert.Equal(t, 0, h.store.count(t))
	assert.Equal(t, StateUnseen, h.pipeline.Status().Get("a.md").State)

	// 未记录的文档不做任何操作
	require.NoError(t, h.pipeline.RemoveDocument(ctx, rec, "missing.md"))
}

func TestRemoveDocumentDeletesChunksBeyondRecord(t *testing.T) {
	h := newHarness(t)
	rec := tracker.NewRecord()
	ctx := context.Background()
	require.NoError(t, h.pipeline.ProcessDocument(ctx, rec, testDocument("a.md", "alpha")))
	require.Equal(t, 1, rec.Entries["a.md"].ChunkCount)

	// 记录之外的分块，例如一次失败写入留下的
	stray := vectordb.Document{
		ID:     vectordb.ChunkID("a.md", 7),
		FileID: "a.md",
		Text:   "stray",
		Vector: fakeVector("stray"),
	}
	require.NoError(t, h.store.Repository.Upsert(ctx, []vectordb.Document{stray}))
	require.Len(t, h.store.chunksOf(t, "a.md"), 2)

	require.NoError(t, h.pipeline.RemoveDocument(ctx, rec, "a.md"))
	assert.Empty(t, h.store.chunksOf(t, "a.md"))
	assert.Contains(t, h.store.fileDels, "a.md")
}
