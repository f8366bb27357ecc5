package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/repository"
	"github.com/fyerfyer/doc-ingest/internal/source"
	"github.com/fyerfyer/doc-ingest/internal/tracker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Failure 单个文档的处理失败
type Failure struct {
	DocID string `json:"doc_id"`
	Name  string `json:"name,omitempty"`
	Stage State  `json:"stage"`
	Error string `json:"error"`
}

// ScanReport 一次扫描或处理任务的结果
type ScanReport struct {
	ID         string             `json:"id"`
	Trigger    models.ScanTrigger `json:"trigger"`
	Status     models.ScanStatus  `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	New        int                `json:"new"`
	Modified   int                `json:"modified"`
	Deleted    int                `json:"deleted"`
	Skipped    int                `json:"skipped"`
	Processed  int                `json:"processed"`
	Failed     int                `json:"failed"`
	Chunks     int                `json:"chunks"`
	Failures   []Failure          `json:"failures,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Duration 扫描耗时
func (r *ScanReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *ScanReport) addFailure(docID, name string, err error) {
	stage := StateFailed
	var perr *ProcessError
	if errors.As(err, &perr) {
		stage = perr.Stage
	}
	r.Failed++
	r.Failures = append(r.Failures, Failure{DocID: docID, Name: name, Stage: stage, Error: err.Error()})
}

// ScanService 扫描服务
// 同一时间只允许一个扫描或处理任务，文档逐个顺序处理
type ScanService struct {
	source   source.Source
	pipeline *PipelineService
	records  tracker.Store
	scans    repository.ScanRepository // 可为nil，此时不保存扫描历史
	keep     int                       // 保留的扫描历史条数
	logger   *logrus.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *ScanReport
}

// ScanOption 扫描服务配置选项
type ScanOption func(*ScanService)

// WithScanRepository 设置扫描历史仓储
func WithScanRepository(repo repository.ScanRepository) ScanOption {
	return func(s *ScanService) {
		s.scans = repo
	}
}

// WithHistoryLimit 设置保留的扫描历史条数
func WithHistoryLimit(keep int) ScanOption {
	return func(s *ScanService) {
		if keep > 0 {
			s.keep = keep
		}
	}
}

// WithScanLogger 设置日志记录器
func WithScanLogger(logger *logrus.Logger) ScanOption {
	return func(s *ScanService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScanService 创建扫描服务
func NewScanService(src source.Source, pipeline *PipelineService, records tracker.Store, opts ...ScanOption) *ScanService {
	s := &ScanService{
		source:   src,
		pipeline: pipeline,
		records:  records,
		keep:     100,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Running 是否有任务在运行
func (s *ScanService) Running() bool {
	return s.running.Load()
}

// LastReport 最近一次任务的结果，没有时返回nil
func (s *ScanService) LastReport() *ScanReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// acquire 获取单任务标志
func (s *ScanService) acquire() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrScanInProgress
	}
	return nil
}

func (s *ScanService) release() {
	s.running.Store(false)
}

// Scan 检测数据源变化并处理新增、修改和删除的文档
// 数据源不可用时中止本次扫描，下个周期重试；ctx取消只在文档之间生效
func (s *ScanService) Scan(ctx context.Context, trigger models.ScanTrigger) (*ScanReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.scan(ctx, trigger)
}

// TryScan 立即获取单任务标志，成功后返回执行扫描的函数
// 返回的函数必须调用一次，结束时释放标志
func (s *ScanService) TryScan(trigger models.ScanTrigger) (func(ctx context.Context) (*ScanReport, error), error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	var once sync.Once
	return func(ctx context.Context) (*ScanReport, error) {
		var (
			report *ScanReport
			err    = ErrScanInProgress
		)
		once.Do(func() {
			defer s.release()
			report, err = s.scan(ctx, trigger)
		})
		return report, err
	}, nil
}

func (s *ScanService) scan(ctx context.Context, trigger models.ScanTrigger) (*ScanReport, error) {
	report := s.begin(ctx, trigger)
	log := s.logger.WithFields(logrus.Fields{"scan_id": report.ID, "trigger": trigger})
	log.Info("Scan started")

	entries, err := s.source.List(ctx)
	if err != nil {
		return s.abort(ctx, report, err)
	}
	rec, err := s.records.Load(ctx)
	if err != nil {
		return s.abort(ctx, report, fmt.Errorf("load processing record: %w", err))
	}

	items := make([]tracker.Item, len(entries))
	for i, e := range entries {
		items[i] = tracker.Item{ID: e.ID, Name: e.Name, Signature: e.Signature}
	}
	changes := tracker.DetectChanges(rec, items)
	report.New = len(changes.New)
	report.Modified = len(changes.Modified)
	report.Deleted = len(changes.Deleted)
	log.WithFields(logrus.Fields{
		"new":      report.New,
		"modified": report.Modified,
		"deleted":  report.Deleted,
	}).Info("Changes detected")

	pending := changes.Pending()
	for _, item := range pending {
		s.pipeline.enqueue(item.ID)
	}

	for _, item := range pending {
		if ctx.Err() != nil {
			return s.cancel(ctx, report)
		}
		if err := s.processOne(ctx, rec, item.ID, item.Name, report); err != nil {
			return s.abort(ctx, report, err)
		}
	}

	for _, entry := range changes.Deleted {
		if ctx.Err() != nil {
			return s.cancel(ctx, report)
		}
		if err := s.pipeline.RemoveDocument(context.WithoutCancel(ctx), rec, entry.ID); err != nil {
			report.addFailure(entry.ID, entry.Name, err)
			continue
		}
		if err := s.records.Save(context.WithoutCancel(ctx), rec); err != nil {
			return s.abort(ctx, report, fmt.Errorf("save processing record: %w", err))
		}
	}

	return s.finish(ctx, report, models.ScanStatusCompleted), nil
}

// ProcessSelected 只处理指定的文档
// force为false时跳过签名未变化的文档
func (s *ScanService) ProcessSelected(ctx context.Context, trigger models.ScanTrigger, ids []string, force bool) (*ScanReport, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	report := s.begin(ctx, trigger)
	rec, err := s.records.Load(ctx)
	if err != nil {
		return s.abort(ctx, report, fmt.Errorf("load processing record: %w", err))
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return s.cancel(ctx, report)
		}
		if err := s.processSelectedOne(ctx, rec, id, force, report); err != nil {
			return s.abort(ctx, report, err)
		}
	}
	return s.finish(ctx, report, models.ScanStatusCompleted), nil
}

func (s *ScanService) processSelectedOne(ctx context.Context, rec *tracker.Record, id string, force bool, report *ScanReport) error {
	entry, known := rec.Get(id)
	doc, ok := s.read(ctx, id, entry.Name, report)
	if !ok {
		return nil
	}
	if !force && known && entry.Status == tracker.StatusProcessed &&
		doc.Signature != "" && doc.Signature == entry.Signature {
		s.pipeline.transition(id, StateDone)
		report.Skipped++
		return nil
	}
	if known {
		report.Modified++
	} else {
		report.New++
	}
	return s.runPipeline(ctx, rec, doc, report)
}

// processOne 读取并处理一个文档，只有记录保存失败才返回错误
func (s *ScanService) processOne(ctx context.Context, rec *tracker.Record, id, name string, report *ScanReport) error {
	doc, ok := s.read(ctx, id, name, report)
	if !ok {
		return nil
	}
	return s.runPipeline(ctx, rec, doc, report)
}

// read 读取文档内容，失败时计入报告
func (s *ScanService) read(ctx context.Context, id, name string, report *ScanReport) (source.Document, bool) {
	s.pipeline.enqueue(id)
	s.pipeline.transition(id, StateReading)
	doc, err := s.source.Read(ctx, id)
	if err != nil {
		perr := newProcessError(id, StateReading, err)
		s.pipeline.status.Fail(id, perr)
		s.logger.WithField("doc_id", id).WithError(err).Warn("Failed to read document")
		report.addFailure(id, name, perr)
		return source.Document{}, false
	}
	return doc, true
}

// runPipeline 处理文档并保存记录，两者都不受ctx取消影响，取消只在文档之间生效
func (s *ScanService) runPipeline(ctx context.Context, rec *tracker.Record, doc source.Document, report *ScanReport) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.pipeline.ProcessDocument(ctx, rec, doc); err != nil {
		report.addFailure(doc.ID, doc.Name, err)
		return nil
	}
	report.Processed++
	if entry, ok := rec.Get(doc.ID); ok {
		report.Chunks += entry.ChunkCount
	}
	if err := s.records.Save(ctx, rec); err != nil {
		return fmt.Errorf("save processing record: %w", err)
	}
	return nil
}

// WithRecord 在单任务保护下加载处理记录、执行fn并保存
func (s *ScanService) WithRecord(ctx context.Context, fn func(rec *tracker.Record) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	rec, err := s.records.Load(ctx)
	if err != nil {
		return fmt.Errorf("load processing record: %w", err)
	}
	if err := fn(rec); err != nil {
		return err
	}
	return s.records.Save(ctx, rec)
}

// Forget 删除文档的分块和处理记录，数据源中的文件保留
func (s *ScanService) Forget(ctx context.Context, id string) error {
	return s.WithRecord(ctx, func(rec *tracker.Record) error {
		return s.pipeline.RemoveDocument(ctx, rec, id)
	})
}

// Record 读取当前处理记录
func (s *ScanService) Record(ctx context.Context) (*tracker.Record, error) {
	return s.records.Load(ctx)
}

// History 分页列出扫描历史
func (s *ScanService) History(ctx context.Context, offset, limit int) ([]*models.ScanRun, int64, error) {
	if s.scans == nil {
		return []*models.ScanRun{}, 0, nil
	}
	return s.scans.List(ctx, offset, limit)
}

// LastRun 最近一次持久化的扫描
func (s *ScanService) LastRun(ctx context.Context) (*models.ScanRun, error) {
	if s.scans == nil {
		return nil, models.ErrScanNotFound
	}
	return s.scans.Latest(ctx)
}

func (s *ScanService) begin(ctx context.Context, trigger models.ScanTrigger) *ScanReport {
	report := &ScanReport{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    models.ScanStatusRunning,
		StartedAt: time.Now(),
	}
	if s.scans != nil {
		if err := s.scans.Create(ctx, s.toRun(report)); err != nil {
			s.logger.WithError(err).Warn("Failed to record scan start")
		}
	}
	return report
}

func (s *ScanService) abort(ctx context.Context, report *ScanReport, err error) (*ScanReport, error) {
	report.Error = err.Error()
	s.logger.WithField("scan_id", report.ID).WithError(err).Error("Scan aborted")
	return s.finish(ctx, report, models.ScanStatusFailed), err
}

func (s *ScanService) cancel(ctx context.Context, report *ScanReport) (*ScanReport, error) {
	s.logger.WithField("scan_id", report.ID).Info("Scan canceled")
	return s.finish(ctx, report, models.ScanStatusCanceled), ctx.Err()
}

func (s *ScanService) finish(ctx context.Context, report *ScanReport, status models.ScanStatus) *ScanReport {
	report.Status = status
	report.FinishedAt = time.Now()

	if s.scans != nil {
		// 取消后仍需写入结束状态
		saveCtx := context.WithoutCancel(ctx)
		if err := s.scans.Update(saveCtx, s.toRun(report)); err != nil {
			s.logger.WithError(err).Warn("Failed to record scan result")
		}
		if err := s.scans.Prune(saveCtx, s.keep); err != nil {
			s.logger.WithError(err).Warn("Failed to prune scan history")
		}
	}

	s.mu.Lock()
	last := *report
	s.last = &last
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"scan_id":   report.ID,
		"status":    status,
		"processed": report.Processed,
		"failed":    report.Failed,
		"chunks":    report.Chunks,
		"duration":  report.Duration().String(),
	}).Info("Scan finished")
	return report
}

func (s *ScanService) toRun(report *ScanReport) *models.ScanRun {
	run := &models.ScanRun{
		ID:        report.ID,
		Trigger:   report.Trigger,
		Status:    report.Status,
		StartedAt: report.StartedAt,
		NewCount:  report.New,
		Modified:  report.Modified,
		Deleted:   report.Deleted,
		Processed: report.Processed,
		Failed:    report.Failed,
		Chunks:    report.Chunks,
		Error:     report.Error,
	}
	if !report.FinishedAt.IsZero() {
		finished := report.FinishedAt
		run.FinishedAt = &finished
	}
	if len(report.Failures) > 0 {
		if data, err := json.Marshal(report.Failures); err == nil {
			run.Failures = datatypes.JSON(data)
		}
	}
	return run
}
