package uptime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/logging"
	"github.com/uptimerhq/uptimer/internal/notify"
	"github.com/uptimerhq/uptimer/internal/probe"
)

// TickLockName is the lease row guarding the scheduled tick.
const TickLockName = "scheduled-tick"

type SchedulerConfig struct {
	TickIntervalSec  int64
	MonitorCap       int
	ProbeConcurrency int
	RetentionDays    int
}

// Scheduler runs the periodic tick: claim the lease, probe due monitors with
// bounded concurrency, fold outcomes through the state machine, hand
// transition events to the notifier, and run retention plus daily rollups
// when a UTC day boundary passes.
type Scheduler struct {
	store    *db.Store
	notifier *notify.Notifier
	httpExec probe.Executor
	tcpExec  probe.Executor
	cfg      SchedulerConfig
	holder   string
	log      *log.Logger

	// Injection points for tests.
	nowFn func() int64
	newID func() string
}

func NewScheduler(store *db.Store, notifier *notify.Notifier, policy probe.TargetPolicy, cfg SchedulerConfig) *Scheduler {
	if cfg.TickIntervalSec <= 0 {
		cfg.TickIntervalSec = 60
	}
	if cfg.MonitorCap <= 0 {
		cfg.MonitorCap = 200
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = 5
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	return &Scheduler{
		store:    store,
		notifier: notifier,
		httpExec: probe.NewHTTPExecutor(policy),
		tcpExec:  probe.NewTCPExecutor(policy),
		cfg:      cfg,
		holder:   uuid.NewString(),
		log:      logging.New("scheduler"),
		nowFn:    func() int64 { return time.Now().Unix() },
		newID:    uuid.NewString,
	}
}

// RunTick performs one scheduled tick. A tick either claims the lease or
// performs no work at all; losing the lease is not an error.
func (s *Scheduler) RunTick(ctx context.Context) error {
	now := s.nowFn()

	if err := s.store.AcquireLock(TickLockName, s.holder, now, 2*s.cfg.TickIntervalSec); err != nil {
		if errors.Is(err, db.ErrLockHeld) {
			return nil
		}
		return err
	}
	defer func() {
		// Best effort; a missed release just expires naturally.
		_ = s.store.ReleaseLock(TickLockName, s.holder)
	}()

	due, err := s.store.GetDueMonitors(now, s.cfg.MonitorCap)
	if err != nil {
		return err
	}

	var inMaint map[string]bool
	if len(due) > 0 {
		inMaint, err = s.store.GetMonitorsInMaintenance(now)
		if err != nil {
			return err
		}
	}

	var (
		errMu    sync.Mutex
		tickErrs *multierror.Error
		notifyWG sync.WaitGroup
	)

	jobs := make(chan db.Monitor)
	var workerWG sync.WaitGroup
	for i := 0; i < s.cfg.ProbeConcurrency; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for m := range jobs {
				if err := s.checkMonitor(ctx, m, inMaint[m.ID], &notifyWG); err != nil {
					// One monitor's failure never affects the rest of the
					// tick; record it and move on.
					s.log.Printf("probe apply failed for monitor %s: %v", m.ID, err)
					errMu.Lock()
					tickErrs = multierror.Append(tickErrs, err)
					errMu.Unlock()
				}
			}
		}()
	}

dispatch:
	for _, m := range due {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- m:
		}
	}
	close(jobs)
	workerWG.Wait()

	if err := s.announceMaintenance(ctx, now, &notifyWG); err != nil {
		s.log.Printf("maintenance events: %v", err)
		errMu.Lock()
		tickErrs = multierror.Append(tickErrs, err)
		errMu.Unlock()
	}

	// Notifier fan-out is async per event but must finish before the tick
	// tears down.
	notifyWG.Wait()

	if err := s.runDailyJobs(ctx, s.nowFn()); err != nil {
		s.log.Printf("daily retention/rollup failed: %v", err)
		errMu.Lock()
		tickErrs = multierror.Append(tickErrs, err)
		errMu.Unlock()
	}

	return tickErrs.ErrorOrNil()
}

// checkMonitor probes one monitor and persists the outcome.
func (s *Scheduler) checkMonitor(ctx context.Context, m db.Monitor, inMaint bool, notifyWG *sync.WaitGroup) error {
	var exec probe.Executor
	switch m.Type {
	case db.MonitorTypeTCP:
		exec = s.tcpExec
	default:
		exec = s.httpExec
	}

	outcome := exec.Probe(ctx, m)
	checkedAt := s.nowFn()

	if ctx.Err() != nil {
		// Tick deadline exceeded mid-probe: discard the partial outcome,
		// the monitor becomes due again next tick.
		return nil
	}

	state, err := s.store.GetMonitorState(m.ID)
	if err != nil {
		return err
	}
	open, err := s.store.GetOpenOutage(m.ID)
	if err != nil {
		return err
	}

	apply, event := Apply(m, state, open, outcome, inMaint, checkedAt, s.newID())
	if err := s.store.ApplyCheck(ctx, apply); err != nil {
		return err
	}

	if event != nil {
		ev := notify.Event{
			Type: event.Type,
			Key:  event.Key,
			Payload: map[string]any{
				"monitor_id":   event.MonitorID,
				"monitor_name": event.MonitorName,
				"status":       statusForEvent(event.Type),
				"outage_id":    event.OutageID,
				"error":        event.Error,
				"latency_ms":   event.LatencyMs,
				"at":           event.At,
			},
		}
		notifyWG.Add(1)
		go func() {
			defer notifyWG.Done()
			if err := s.notifier.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
				s.log.Printf("notify %s: %v", ev.Key, err)
			}
		}()
	}
	return nil
}

// announceMaintenance dispatches maintenance.started for every currently
// active window and maintenance.ended for windows that ended since the last
// couple of ticks. The window id in the event key plus the delivery ledger
// make the repeated dispatch at-most-once per channel.
func (s *Scheduler) announceMaintenance(ctx context.Context, now int64, notifyWG *sync.WaitGroup) error {
	started, err := s.store.GetActiveWindows(now, 100)
	if err != nil {
		return err
	}
	ended, err := s.store.GetWindowsEndedBetween(now-2*s.cfg.TickIntervalSec, now)
	if err != nil {
		return err
	}

	dispatch := func(eventType string, w db.MaintenanceWindow) {
		ev := notify.Event{
			Type: eventType,
			Key:  fmt.Sprintf("%s:%d", eventType, w.ID),
			Payload: map[string]any{
				"window_id": w.ID,
				"title":     w.Title,
				"message":   w.Message,
				"starts_at": w.StartsAt,
				"ends_at":   w.EndsAt,
			},
		}
		notifyWG.Add(1)
		go func() {
			defer notifyWG.Done()
			if err := s.notifier.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
				s.log.Printf("notify %s: %v", ev.Key, err)
			}
		}()
	}

	for _, w := range started {
		dispatch(notify.EventMaintenanceStarted, w)
	}
	for _, w := range ended {
		dispatch(notify.EventMaintenanceEnded, w)
	}
	return nil
}

func statusForEvent(eventType string) string {
	if eventType == EventMonitorUp {
		return db.StatusUp
	}
	return db.StatusDown
}
