package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestScanProcessesNewDocuments(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 10))
	h.write(t, "notes/b.txt", "bravo")
	h.write(t, "image.png", "not a document")

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, report.Status)
	assert.Equal(t, 2, report.New)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 0, report.Failed)

	// 扫描成功后记录中的签名等于当前签名
	rec := h.record(t)
	for id, sig := range h.signatures(t) {
		entry, ok := rec.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, sig, entry.Signature)
		assert.Equal(t, tracker.StatusProcessed, entry.Status)
	}

	assert.Greater(t, rec.Entries["a.md"].ChunkCount, 1)
	assert.Equal(t, 1, rec.Entries["notes/b.txt"].ChunkCount)
	assert.Equal(t, rec.TotalChunks(), report.Chunks)
	assert.Equal(t, rec.TotalChunks(), h.store.count(t))
	assert.Equal(t, 2, h.embedCalls())
	assert.Equal(t, StateDone, h.pipeline.Status().Get("a.md").State)
	assert.Equal(t, 2, h.records.Saves())
}

func TestScanIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 10))
	h.write(t, "b.md", "bravo")

	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	embeds, upserts := h.embedCalls(), h.store.Upserts()

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, report.New+report.Modified+report.Deleted)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, embeds, h.embedCalls())
	assert.Equal(t, upserts, h.store.Upserts())
}

func TestScanReprocessLeavesNoOrphans(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 12))
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	before := h.record(t).Entries["a.md"].ChunkCount
	require.Greater(t, before, 1)

	h.write(t, "a.md", "short replacement")
	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Modified)
	assert.Equal(t, 1, report.Processed)

	chunks := h.store.chunksOf(t, "a.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, "short replacement", chunks[0].Document.Text)
	assert.Equal(t, vectordb.ChunkID("a.md", 0), chunks[0].Document.ID)
	assert.Equal(t, 1, h.record(t).Entries["a.md"].ChunkCount)
	assert.Contains(t, h.store.fileDels, "a.md")
}

func TestScanRemovesDeletedDocuments(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 10))
	h.write(t, "b.md", "bravo")
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	chunks := h.record(t).Entries["a.md"].ChunkCount

	h.remove(t, "a.md")
	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	_, ok := h.record(t).Get("a.md")
	assert.False(t, ok)
	require.Len(t, h.store.deletes, 1)
	assert.Equal(t, vectordb.ChunkIDs("a.md", chunks), h.store.deletes[0])
	assert.Empty(t, h.store.chunksOf(t, "a.md"))
	assert.Equal(t, 1, h.store.count(t))
}

func TestScanEmbeddingFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "first version")
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	old := h.record(t).Entries["a.md"]

	h.write(t, "a.md", "second version")
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(embedding.NewEmbeddingError(embedding.ErrCodeRateLimited, "slow down"))

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, StateEmbedding, report.Failures[0].Stage)

	assert.Equal(t, old, h.record(t).Entries["a.md"])
	chunks := h.store.chunksOf(t, "a.md")
	require.Len(t, chunks, 1)
	assert.Equal(t, "first version", chunks[0].Document.Text)
	assert.Equal(t, StateFailed, h.pipeline.Status().Get("a.md").State)

	// 下次扫描重试
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil)
	report, err = h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, h.signatures(t)["a.md"], h.record(t).Entries["a.md"].Signature)
}

func TestScanSourceUnavailable(t *testing.T) {
	h := newHarness(t, WithScanRepository(newScanRepository(t)))
	h.write(t, "a.md", "alpha")
	require.NoError(t, removeAll(h.dir))

	report, err := h.scanner.Scan(context.Background(), models.TriggerSchedule)
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
	assert.Equal(t, models.ScanStatusFailed, report.Status)
	assert.NotEmpty(t, report.Error)
	assert.Equal(t, 0, h.records.Saves())

	run, err := h.scanner.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestScanInProgress(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")

	started := make(chan struct{})
	release := make(chan struct{})
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Once()

	done := make(chan error, 1)
	go func() {
		_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
		done <- err
	}()

	<-started
	assert.True(t, h.scanner.Running())
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = h.scanner.ProcessSelected(context.Background(), models.TriggerSelected, []string{"a.md"}, true)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.ErrorIs(t, h.scanner.Forget(context.Background(), "a.md"), ErrScanInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, h.scanner.Running())
}

func TestTryScanHoldsGuardUntilRun(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")

	run, err := h.scanner.TryScan(models.TriggerManual)
	require.NoError(t, err)
	assert.True(t, h.scanner.Running())

	// 扫描尚未开始执行时其他任务已被拒绝
	_, err = h.scanner.TryScan(models.TriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = h.scanner.Scan(context.Background(), models.TriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)

	report, err := run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.False(t, h.scanner.Running())

	// 重复调用不会再次扫描
	_, err = run(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Equal(t, 1, h.embedCalls())
}

func TestScanCancelBetweenDocuments(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")
	h.write(t, "b.md", "bravo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		cancel()
	})

	report, err := h.scanner.Scan(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ScanStatusCanceled, report.Status)

	// 正在处理的文档完成，后续文档不再处理
	assert.Equal(t, 1, report.Processed)
	_, ok := h.record(t).Get("a.md")
	assert.True(t, ok)
	_, ok = h.record(t).Get("b.md")
	assert.False(t, ok)
}

func TestScanCancelKeepsSQLRecordOfFinishedDocument(t *testing.T) {
	h := newHarness(t)
	db := newTestDB(t)
	records := repository.NewRecordRepositoryWithDB(db)
	scanner := NewScanService(h.source, h.pipeline, records, WithScanLogger(quietLogger()))
	h.write(t, "a.md", "alpha")
	h.write(t, "b.md", "bravo")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		cancel()
	})

	report, err := scanner.Scan(ctx, models.TriggerManual)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ScanStatusCanceled, report.Status)
	assert.Equal(t, 1, report.Processed)
	assert.Empty(t, report.Error)

	// 已写入向量库的文档必须同时写入记录
	rec, err := records.Load(context.Background())
	require.NoError(t, err)
	entry, ok := rec.Get("a.md")
	require.True(t, ok)
	assert.Len(t, h.store.chunksOf(t, "a.md"), entry.ChunkCount)
	_, ok = rec.Get("b.md")
	assert.False(t, ok)

	// 下次扫描不再重复处理a.md
	embeds := h.embedCalls()
	h.embedder.ExpectedCalls = nil
	h.embedder.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil)
	report, err = scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 0, report.Modified)
	assert.Equal(t, embeds+1, h.embedCalls())
}

func TestScanPartialUpsertLeavesNoOrphans(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 20))
	h.store.upsertErr = errors.New("batch 2 rejected")
	h.store.written = 1

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, h.store.chunksOf(t, "a.md"))

	// 文档从未进入记录，删除后也不能留下分块
	h.store.upsertErr = nil
	h.remove(t, "a.md")
	report, err = h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 0, h.store.count(t))
}

func TestScanEmptyDocument(t *testing.T) {
	h := newHarness(t)
	h.write(t, "empty.md", "  \n\n ")

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	entry, ok := h.record(t).Get("empty.md")
	require.True(t, ok)
	assert.Equal(t, 0, entry.ChunkCount)
	assert.Equal(t, 0, h.store.Upserts())
	assert.Equal(t, 0, h.embedCalls())
}

func TestScanRecordsFailuresForUnreadableDocuments(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")
	h.write(t, "bad.md", string([]byte{0xff, 0xfe, 0x00}))

	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "bad.md", report.Failures[0].DocID)
	assert.Equal(t, StateReading, report.Failures[0].Stage)

	_, ok := h.record(t).Get("bad.md")
	assert.False(t, ok)
}

func TestProcessSelected(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")
	h.write(t, "b.md", "bravo")
	ctx := context.Background()

	report, err := h.scanner.ProcessSelected(ctx, models.TriggerSelected, []string{"a.md"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Processed)
	_, ok := h.record(t).Get("b.md")
	assert.False(t, ok)

	// 签名未变化时跳过
	report, err = h.scanner.ProcessSelected(ctx, models.TriggerSelected, []string{"a.md"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, h.embedCalls())

	report, err = h.scanner.ProcessSelected(ctx, models.TriggerManual, []string{"a.md"}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, h.embedCalls())

	report, err = h.scanner.ProcessSelected(ctx, models.TriggerSelected, []string{"missing.md"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestScanHistory(t *testing.T) {
	h := newHarness(t, WithScanRepository(newScanRepository(t)), WithHistoryLimit(2))
	h.write(t, "a.md", "alpha")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.scanner.Scan(ctx, models.TriggerManual)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	runs, total, err := h.scanner.History(ctx, 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, runs, 2)
	assert.Equal(t, models.ScanStatusCompleted, runs[0].Status)
	assert.Equal(t, 0, runs[0].Processed)
	assert.Equal(t, h.scanner.LastReport().ID, runs[0].ID)

	last := h.scanner.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, models.TriggerManual, last.Trigger)
}

func TestForget(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", longText("alpha", 8))
	_, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)

	require.NoError(t, h.scanner.Forget(context.Background(), "a.md"))
	_, ok := h.record(t).Get("a.md")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.count(t))
	assert.FileExists(t, h.dir+"/a.md")

	// 被遗忘的文档在下次扫描时作为新文档处理
	report, err := h.scanner.Scan(context.Background(), models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
}
