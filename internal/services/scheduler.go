package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/sirupsen/logrus"
)

// Scanner 定时任务调用的扫描接口
type Scanner interface {
	Scan(ctx context.Context, trigger models.ScanTrigger) (*ScanReport, error)
	Running() bool
}

// Scheduler 按固定间隔触发扫描
// 停用或已有扫描运行时跳过本次触发
type Scheduler struct {
	scanner  Scanner
	interval time.Duration
	logger   *logrus.Logger

	enabled atomic.Bool
	mu      sync.Mutex
	nextRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler 创建定时扫描器
func NewScheduler(scanner Scanner, interval time.Duration, enabled bool, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		scanner:  scanner,
		interval: interval,
		logger:   logger,
	}
	s.enabled.Store(enabled)
	return s
}

// Start 启动定时循环，重复调用无效
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.nextRun = time.Now().Add(s.interval)

	go s.loop(ctx, s.done)
	s.logger.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"enabled":  s.Enabled(),
	}).Info("Scheduler started")
}

// Stop 停止定时循环并等待正在进行的扫描结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.nextRun = time.Time{}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.interval)
			s.mu.Unlock()
			s.tick(ctx)
		}
	}
}

// tick 执行一次定时扫描
func (s *Scheduler) tick(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if s.scanner.Running() {
		s.logger.Debug("Scan already running, skipping scheduled scan")
		return
	}

	_, err := s.scanner.Scan(ctx, models.TriggerSchedule)
	switch {
	case err == nil:
	case errors.Is(err, ErrScanInProgress):
		s.logger.Debug("Scan already running, skipping scheduled scan")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.WithError(err).Warn("Scheduled scan failed")
	}
}

// SetEnabled 开关定时扫描
func (s *Scheduler) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
	s.logger.WithField("enabled", enabled).Info("Auto scan toggled")
}

// Enabled 定时扫描是否开启
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// Interval 扫描间隔
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// NextRun 下次触发时间，未启动或已停用时为零值
func (s *Scheduler) NextRun() time.Time {
	if !s.Enabled() {
		return time.Time{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// State 当前的定时扫描状态
func (s *Scheduler) State() AutoScanState {
	state := AutoScanState{
		Enabled:  s.Enabled(),
		Interval: s.Interval().String(),
	}
	if next := s.NextRun(); !next.IsZero() {
		state.NextRun = &next
	}
	return state
}
