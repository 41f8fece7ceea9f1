/*
scheduler.go - Automated daily reconciliation

PURPOSE:
  Periodically reconciles the previous UTC day of every configured item,
  so the run history shows an unbalanced day without anyone asking for it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The window is always yesterday [00:00, 24:00) in UTC
  - Skips items whose run log already holds that window
  - Missing snapshots are expected (stock-take not done yet) and skipped
  - Runs are recorded by stock.Service through its RunLog
  - Stop cancels a pass in flight instead of waiting it out

CONFIGURATION:
  - STOCKLEDGER_SCHEDULE_ITEMS:    items to reconcile (empty disables)
  - STOCKLEDGER_SCHEDULE_INTERVAL: how often to check (default: 1 hour)

USAGE:
  scheduler := NewReconciliationScheduler(svc, items, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GET /api/items/{id}/runs
  - stock/service.go: Reconcile
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/stockledger/config"
	"github.com/warp/stockledger/stock"
)

// runLookback is how many recent runs are scanned for an existing window.
const runLookback = 20

// ReconciliationScheduler reconciles the previous day of a fixed item list.
type ReconciliationScheduler struct {
	Service       *stock.Service
	Items         []stock.ItemID
	CheckInterval time.Duration
	Enabled       bool
	Logger        *logrus.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SchedulerStats summarises one check.
type SchedulerStats struct {
	Processed int
	Skipped   int
	Missing   int
	Failed    int
}

// NewReconciliationScheduler creates a new scheduler. It is disabled when items is empty.
func NewReconciliationScheduler(svc *stock.Service, items []string, logger *logrus.Logger) *ReconciliationScheduler {
	ids := make([]stock.ItemID, 0, len(items))
	for _, item := range items {
		if item != "" {
			ids = append(ids, stock.ItemID(item))
		}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ReconciliationScheduler{
		Service:       svc,
		Items:         ids,
		CheckInterval: 1 * time.Hour,
		Enabled:       len(ids) > 0,
		Logger:        logger,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	log := rs.Logger.WithField("module", "scheduler")
	if !rs.Enabled {
		log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan bool)
	rs.cancel = cancel
	rs.wg.Add(1)

	go rs.run(ctx)

	log.WithFields(logrus.Fields{
		"interval": rs.CheckInterval.String(),
		"items":    len(rs.Items),
	}).Info("started")
}

// Stop stops the scheduler.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.cancel()
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.WithField("module", "scheduler").Info("stopped")
	}
}

func (rs *ReconciliationScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess(ctx)
		case <-rs.stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *ReconciliationScheduler) RunNow(ctx context.Context) SchedulerStats {
	return rs.checkAndProcess(ctx)
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReconciliationScheduler) GetNextRunTime() time.Time {
	return rs.now().Add(rs.CheckInterval)
}

// PreviousDay returns yesterday's window relative to now, in UTC.
func PreviousDay(now time.Time) stock.Window {
	y, m, d := now.UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return stock.Window{
		Start: today.AddDate(0, 0, -1),
		End:   today.Add(-time.Nanosecond),
	}
}

func (rs *ReconciliationScheduler) checkAndProcess(ctx context.Context) SchedulerStats {
	var stats SchedulerStats
	window := PreviousDay(rs.now())
	log := rs.Logger.WithFields(logrus.Fields{
		"module": "scheduler",
		"window": window.String(),
	})

	for _, item := range rs.Items {
		if ctx.Err() != nil {
			break
		}
		done, err := rs.alreadyReconciled(ctx, item, window)
		if err != nil {
			config.LogError(rs.Logger, "scheduler", "checkAndProcess", "run log", item, err)
			stats.Failed++
			continue
		}
		if done {
			stats.Skipped++
			continue
		}

		_, err = rs.Service.Reconcile(ctx, item, window)
		switch {
		case errors.Is(err, stock.ErrMissingBoundary):
			log.WithField("item", item).Debug(err.Error())
			stats.Missing++
		case err != nil:
			config.LogError(rs.Logger, "scheduler", "checkAndProcess", "reconcile", item, err)
			stats.Failed++
		default:
			stats.Processed++
		}
	}

	if stats.Processed > 0 || stats.Failed > 0 {
		log.WithFields(logrus.Fields{
			"processed": stats.Processed,
			"skipped":   stats.Skipped,
			"missing":   stats.Missing,
			"failed":    stats.Failed,
		}).Info("completed")
	}
	return stats
}

func (rs *ReconciliationScheduler) alreadyReconciled(ctx context.Context, item stock.ItemID, w stock.Window) (bool, error) {
	if rs.Service.Runs == nil {
		return false, nil
	}
	runs, err := rs.Service.Runs.Runs(ctx, item, runLookback)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if sameInstant(run.Window.Start, w.Start) && sameInstant(run.Window.End, w.End) {
			return true, nil
		}
	}
	return false, nil
}

// sameInstant compares at the microsecond precision the SQL stores keep.
func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

func (rs *ReconciliationScheduler) now() time.Time {
	if rs.Now == nil {
		return time.Now().UTC()
	}
	return rs.Now()
}
