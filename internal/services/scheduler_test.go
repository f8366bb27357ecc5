package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/stretchr/testify/assert"
)

// countingScanner 记录触发次数
type countingScanner struct {
	scans    atomic.Int32
	running  atomic.Bool
	triggers chan models.ScanTrigger
}

func (c *countingScanner) Scan(ctx context.Context, trigger models.ScanTrigger) (*ScanReport, error) {
	c.scans.Add(1)
	select {
	case c.triggers <- trigger:
	default:
	}
	return &ScanReport{Trigger: trigger}, nil
}

func (c *countingScanner) Running() bool {
	return c.running.Load()
}

func TestSchedulerTriggersScans(t *testing.T) {
	scanner := &countingScanner{triggers: make(chan models.ScanTrigger, 1)}
	s := NewScheduler(scanner, 10*time.Millisecond, true, quietLogger())
	s.Start(context.Background())
	defer s.Stop()

	select {
	case trigger := <-scanner.triggers:
		assert.Equal(t, models.TriggerSchedule, trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled scan was not triggered")
	}
	assert.False(t, s.NextRun().IsZero())
}

func TestSchedulerDisabled(t *testing.T) {
	scanner := &countingScanner{triggers: make(chan models.ScanTrigger, 1)}
	s := NewScheduler(scanner, 5*time.Millisecond, false, quietLogger())
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 0, scanner.scans.Load())
	assert.True(t, s.NextRun().IsZero())

	s.SetEnabled(true)
	assert.Eventually(t, func() bool { return scanner.scans.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipsWhileRunning(t *testing.T) {
	scanner := &countingScanner{triggers: make(chan models.ScanTrigger, 1)}
	scanner.running.Store(true)
	s := NewScheduler(scanner, 5*time.Millisecond, true, quietLogger())
	s.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	s.Stop()
	assert.EqualValues(t, 0, scanner.scans.Load())
}

func TestSchedulerStop(t *testing.T) {
	scanner := &countingScanner{triggers: make(chan models.ScanTrigger, 1)}
	s := NewScheduler(scanner, 5*time.Millisecond, true, quietLogger())

	// 未启动时Stop无副作用
	s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	after := scanner.scans.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, scanner.scans.Load())
	assert.Equal(t, 5*time.Millisecond, s.Interval())
}

func TestSchedulerWithScanService(t *testing.T) {
	h := newHarness(t)
	h.write(t, "a.md", "alpha")

	s := NewScheduler(h.scanner, 10*time.Millisecond, true, quietLogger())
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		r := h.scanner.LastReport()
		return r != nil && r.Trigger == models.TriggerSchedule && r.Processed == 1
	}, 2*time.Second, 10*time.Millisecond)
}
