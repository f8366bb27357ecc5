package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/embedding"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// AutoScanState 定时扫描状态
type AutoScanState struct {
	Enabled  bool       `json:"enabled"`
	Interval string     `json:"interval"`
	NextRun  *time.Time `json:"next_run,omitempty"`
}

// Stats 仪表盘统计
type Stats struct {
	TotalFiles  int             `json:"total_files"`
	Processed   int             `json:"processed"`
	Unprocessed int             `json:"unprocessed"`
	TotalChunks int             `json:"total_chunks"`
	LastUpdated *time.Time      `json:"last_updated,omitempty"`
	LastScan    *models.ScanRun `json:"last_scan,omitempty"`
	ScanRunning bool            `json:"scan_running"`
	AutoScan    AutoScanState   `json:"auto_scan"`
	VectorStore *vectordb.Stats `json:"vector_store,omitempty"`
	SourceType  source.Type     `json:"source_type"`
	States      []DocumentState `json:"states,omitempty"`
}

// Connection 外部服务的连接状态
type Connection struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// Pinger 可探测连接的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// DashboardService 统计与连接检查
type DashboardService struct {
	source    source.Source
	embedder  embedding.Client
	store     vectordb.Repository
	scanner   *ScanService
	scheduler *Scheduler
	extra     map[string]Pinger
	logger    *logrus.Logger
}

// NewDashboardService 创建仪表盘服务，scheduler可为nil
func NewDashboardService(
	src source.Source,
	embedder embedding.Client,
	store vectordb.Repository,
	scanner *ScanService,
	scheduler *Scheduler,
	logger *logrus.Logger,
) *DashboardService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DashboardService{
		source:    src,
		embedder:  embedder,
		store:     store,
		scanner:   scanner,
		scheduler: scheduler,
		extra:     map[string]Pinger{},
		logger:    logger,
	}
}

// AddCheck 增加一项连接检查，例如缓存
func (s *DashboardService) AddCheck(name string, p Pinger) {
	s.extra[name] = p
}

// Scheduler 返回定时扫描器
func (s *DashboardService) Scheduler() *Scheduler {
	return s.scheduler
}

// Stats 汇总处理统计，数据源不可用时返回错误
func (s *DashboardService) Stats(ctx context.Context) (*Stats, error) {
	entries, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.scanner.Record(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalFiles:  len(entries),
		TotalChunks: rec.TotalChunks(),
		ScanRunning: s.scanner.Running(),
		SourceType:  s.source.Type(),
		States:      s.scanner.pipeline.status.Snapshot(),
	}
	for _, e := range entries {
		if entry, ok := rec.Get(e.ID); ok && entry.Signature == e.Signature && e.Signature != "" {
			stats.Processed++
		}
	}
	stats.Unprocessed = stats.TotalFiles - stats.Processed
	if !rec.LastUpdated.IsZero() {
		updated := rec.LastUpdated
		stats.LastUpdated = &updated
	}

	if run, err := s.scanner.LastRun(ctx); err == nil {
		stats.LastScan = run
	} else if !errors.Is(err, models.ErrScanNotFound) {
		s.logger.WithError(err).Warn("Failed to load last scan")
	}

	if s.scheduler != nil {
		stats.AutoScan = s.scheduler.State()
	}

	if vs, err := s.store.Stats(ctx); err == nil {
		stats.VectorStore = &vs
	} else {
		s.logger.WithError(err).Warn("Failed to load vector store stats")
	}
	return stats, nil
}

// Connections 检查数据源、嵌入服务、向量库以及附加依赖
func (s *DashboardService) Connections(ctx context.Context) []Connection {
	checks := []struct {
		name string
		p    Pinger
	}{
		{"source", s.source},
		{"embedding", s.embedder},
		{"vector_store", s.store},
	}
	names := make([]string, 0, len(s.extra))
	for name := range s.extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		checks = append(checks, struct {
			name string
			p    Pinger
		}{name, s.extra[name]})
	}

	out := make([]Connection, 0, len(checks))
	for _, c := range checks {
		start := time.Now()
		err := c.p.Ping(ctx)
		conn := Connection{Name: c.name, OK: err == nil, Latency: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			conn.Error = err.Error()
			s.logger.WithField("service", c.name).WithError(err).Warn("Connection check failed")
		}
		out = append(out, conn)
	}
	return out
}

// Healthy 所有连接是否正常
func Healthy(conns []Connection) bool {
	for _, c := range conns {
		if !c.OK {
			return false
		}
	}
	return true
}
