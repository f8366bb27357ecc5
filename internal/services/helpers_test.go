package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/database"
	"github.com/fyerfyer/doc-ingest/internal/document"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/fyerfyer/doc-ingest/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testDim = 4

// fakeVector 由文本内容确定的向量
func fakeVector(text string) []float32 {
	return []float32{
		float32(len(text)),
		float32(strings.Count(text, "a")),
		float32(strings.Count(text, "b")),
		1,
	}
}

// mockEmbedder 记录调用次数的嵌入客户端
type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return fakeVector(text), nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = fakeVector(text)
	}
	return out, nil
}

func (m *mockEmbedder) Name() string                   { return "mock-embedder" }
func (m *mockEmbedder) Dimension() int                 { return testDim }
func (m *mockEmbedder) Ping(ctx context.Context) error { return nil }

// newEmbedder 所有调用都成功的嵌入客户端
func newEmbedder() *mockEmbedder {
	m := &mockEmbedder{}
	m.On("EmbedBatch", mock.Anything, mock.Anything).Return(nil)
	m.On("Embed", mock.Anything, mock.Anything).Return(nil)
	return m
}

// spyStore 记录写入和删除的向量库
type spyStore struct {
	vectordb.Repository

	mu        sync.Mutex
	upserts   int
	deletes   [][]string
	fileDels  []string
	upsertErr error
	deleteErr error
	// upsertErr非空时先写入的分块数，模拟分批写入中途失败
	written int
}

func (s *spyStore) Upsert(ctx context.Context, docs []vectordb.Document) error {
	s.mu.Lock()
	s.upserts++
	err, written := s.upsertErr, s.written
	s.mu.Unlock()
	if err != nil {
		if written > 0 && written < len(docs) {
			if werr := s.Repository.Upsert(ctx, docs[:written]); werr != nil {
				return werr
			}
		}
		return err
	}
	return s.Repository.Upsert(ctx, docs)
}

func (s *spyStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, append([]string(nil), ids...))
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Repository.Delete(ctx, ids)
}

func (s *spyStore) DeleteByFileID(ctx context.Context, fileID string) error {
	s.mu.Lock()
	s.fileDels = append(s.fileDels, fileID)
	s.mu.Unlock()
	return s.Repository.DeleteByFileID(ctx, fileID)
}

func (s *spyStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// chunksOf 向量库中某文件的全部分块
func (s *spyStore) chunksOf(t *testing.T, fileID string) []vectordb.SearchResult {
	t.Helper()
	results, err := s.Repository.Search(context.Background(), []float32{1, 1, 1, 1}, vectordb.SearchFilter{
		FileIDs:    []string{fileID},
		MaxResults: 1000,
	})
	require.NoError(t, err)
	return results
}

func (s *spyStore) count(t *testing.T) int {
	t.Helper()
	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	return stats.Count
}

// harness 基于本地目录的完整流水线
type harness struct {
	dir      string
	source   source.Source
	embedder *mockEmbedder
	store    *spyStore
	records  *tracker.MemoryStore
	pipeline *PipelineService
	scanner  *ScanService
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newHarness(t *testing.T, opts ...ScanOption) *harness {
	t.Helper()
	dir := t.TempDir()

	st, err := storage.NewLocalStorage(storage.LocalConfig{Path: dir})
	require.NoError(t, err)
	mem, err := vectordb.NewRepository(vectordb.Config{Type: "memory", Dimension: testDim})
	require.NoError(t, err)

	logger := quietLogger()
	h := &harness{
		dir:      dir,
		source:   source.NewBlobSource(source.TypeLocal, st, source.WithLogger(logger)),
		embedder: newEmbedder(),
		store:    &spyStore{Repository: mem},
		records:  tracker.NewMemoryStore(),
	}
	splitter := document.NewTextSplitter(document.SplitterConfig{ChunkSize: 50, ChunkOverlap: 10})
	h.pipeline = NewPipelineService(splitter, h.embedder, h.store, WithPipelineLogger(logger))
	h.scanner = NewScanService(h.source, h.pipeline, h.records, append([]ScanOption{WithScanLogger(logger)}, opts...)...)
	return h
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (h *harness) remove(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(h.dir, name)))
}

func (h *harness) record(t *testing.T) *tracker.Record {
	t.Helper()
	rec, err := h.records.Load(context.Background())
	require.NoError(t, err)
	return rec
}

// signatures 数据源当前的签名
func (h *harness) signatures(t *testing.T) map[string]string {
	t.Helper()
	entries, err := h.source.List(context.Background())
	require.NoError(t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.ID] = e.Signature
	}
	return out
}

func (h *harness) embedCalls() int {
	n := 0
	for _, call := range h.embedder.Calls {
		if call.Method == "EmbedBatch" {
			n++
		}
	}
	return n
}

// longText 生成会被切成多个分块的文本
func longText(word string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s %d\n", word, i)
	}
	return b.String()
}

// newScanRepository 基于sqlite内存库的扫描历史仓储
func newScanRepository(t *testing.T) repository.ScanRepository {
	t.Helper()
	return repository.NewScanRepositoryWithDB(newTestDB(t))
}

// newTestDB 已迁移的sqlite内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func removeAll(dir string) error {
	return os.RemoveAll(dir)
}
