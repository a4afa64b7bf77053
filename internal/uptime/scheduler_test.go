package uptime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/logging"
	"github.com/uptimerhq/uptimer/internal/notify"
	"github.com/uptimerhq/uptimer/internal/probe"
)

type testClock struct {
	now atomic.Int64
}

func (c *testClock) Now() int64      { return c.now.Load() }
func (c *testClock) Set(v int64)     { c.now.Store(v) }
func (c *testClock) Advance(d int64) { c.now.Add(d) }

func newTestScheduler(t *testing.T) (*Scheduler, *db.Store, *testClock) {
	t.Helper()
	store, err := db.NewStore(db.NewTestConfig())
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	notifier := notify.NewNotifier(store, 5)

	clock := &testClock{}
	clock.Set(1_700_000_000)

	// Probing loopback httptest servers requires the private-target policy
	// to be off.
	s := NewScheduler(store, notifier, probe.TargetPolicy{AllowPrivate: true}, SchedulerConfig{
		TickIntervalSec:  60,
		MonitorCap:       50,
		ProbeConcurrency: 3,
		RetentionDays:    90,
	})
	s.log = logging.Discard()
	s.nowFn = clock.Now

	var seq atomic.Int64
	s.newID = func() string { return fmt.Sprintf("outage-%d", seq.Add(1)) }

	return s, store, clock
}

func createHTTPMonitor(t *testing.T, store *db.Store, id, url string, createdAt int64) db.Monitor {
	t.Helper()
	m := db.Monitor{
		ID:             id,
		Name:           "Monitor " + id,
		Type:           db.MonitorTypeHTTP,
		Active:         true,
		IntervalSec:    60,
		TimeoutMs:      5000,
		FailuresToDown: 2,
		SuccessesToUp:  2,
		CreatedAt:      createdAt,
		Config:         db.MonitorConfig{URL: url},
	}
	if err := store.CreateMonitor(m); err != nil {
		t.Fatalf("CreateMonitor failed: %v", err)
	}
	return m
}

func TestRunTickHealthyMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, store, clock := newTestScheduler(t)
	createHTTPMonitor(t, store, "m1", srv.URL, clock.Now())

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	state, err := store.GetMonitorState("m1")
	if err != nil {
		t.Fatalf("GetMonitorState failed: %v", err)
	}
	if state.ConsecutiveSuccesses != 1 {
		t.Errorf("expected 1 success, got %d", state.ConsecutiveSuccesses)
	}
	if state.Status != db.StatusUnknown {
		t.Errorf("one success must not promote from unknown, got %s", state.Status)
	}

	// Second tick crosses the promotion threshold.
	clock.Advance(60)
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	state, _ = store.GetMonitorState("m1")
	if state.Status != db.StatusUp {
		t.Errorf("expected up after 2 successes, got %s", state.Status)
	}
	if state.LastLatencyMs == nil {
		t.Error("expected latency to be recorded")
	}

	checks, err := store.GetCheckResults("m1", 0, clock.Now()+1)
	if err != nil {
		t.Fatalf("GetCheckResults failed: %v", err)
	}
	if len(checks) != 2 {
		t.Errorf("expected 2 check results, got %d", len(checks))
	}
}

func TestRunTickNotDueAgain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, store, clock := newTestScheduler(t)
	createHTTPMonitor(t, store, "m1", srv.URL, clock.Now())

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	// Same instant: the interval has not elapsed, nothing is due.
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	checks, _ := store.GetCheckResults("m1", 0, clock.Now()+1)
	if len(checks) != 1 {
		t.Errorf("monitor probed again before its interval elapsed: %d checks", len(checks))
	}
}

func TestRunTickLeaseExclusion(t *testing.T) {
	s, store, clock := newTestScheduler(t)
	m := db.Monitor{
		ID: "m1", Name: "unreachable", Type: db.MonitorTypeHTTP, Active: true,
		IntervalSec: 60, TimeoutMs: 100, FailuresToDown: 2, SuccessesToUp: 2,
		CreatedAt: clock.Now(), Config: db.MonitorConfig{URL: "http://203.0.113.1:9/"},
	}
	if err := store.CreateMonitor(m); err != nil {
		t.Fatalf("CreateMonitor failed: %v", err)
	}

	// Another instance holds an unexpired lease: this tick must do nothing.
	if err := store.AcquireLock(TickLockName, "other-instance", clock.Now(), 120); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick should exit silently when the lease is held: %v", err)
	}
	checks, _ := store.GetCheckResults("m1", 0, clock.Now()+1)
	if len(checks) != 0 {
		t.Errorf("tick without the lease must not probe, got %d checks", len(checks))
	}

	// Once the lease expires the tick proceeds.
	clock.Advance(121)
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	checks, _ = store.GetCheckResults("m1", 0, clock.Now()+1)
	if len(checks) != 1 {
		t.Errorf("expected 1 check after lease expiry, got %d", len(checks))
	}
}

func TestRunTickDownTransitionNotifiesOnce(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	var webhookHits int32
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhookHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	s, store, clock := newTestScheduler(t)
	createHTTPMonitor(t, store, "m1", target.URL, clock.Now())
	if err := store.CreateChannel(db.NotificationChannel{
		ID: "c1", Name: "hook", CreatedAt: clock.Now(),
		Config: db.ChannelConfig{URL: webhook.URL},
	}); err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}

	// Two failing ticks demote to down and fire monitor.down exactly once.
	for i := 0; i < 2; i++ {
		if err := s.RunTick(context.Background()); err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		clock.Advance(60)
	}

	state, _ := store.GetMonitorState("m1")
	if state.Status != db.StatusDown {
		t.Fatalf("expected down, got %s", state.Status)
	}
	open, err := store.GetOpenOutage("m1")
	if err != nil {
		t.Fatalf("GetOpenOutage failed: %v", err)
	}
	if open == nil {
		t.Fatal("expected an open outage")
	}
	if open.InitialError != "http_500" {
		t.Errorf("initial_error = %q, want http_500", open.InitialError)
	}
	if got := atomic.LoadInt32(&webhookHits); got != 1 {
		t.Errorf("expected exactly 1 webhook delivery, got %d", got)
	}

	// A third failing tick stays down: no additional notification.
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := atomic.LoadInt32(&webhookHits); got != 1 {
		t.Errorf("still-down must not re-notify, got %d deliveries", got)
	}
}

func TestRunTickRecoveryClosesOutage(t *testing.T) {
	var healthy atomic.Bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer target.Close()

	s, store, clock := newTestScheduler(t)
	createHTTPMonitor(t, store, "m1", target.URL, clock.Now())

	for i := 0; i < 2; i++ {
		if err := s.RunTick(context.Background()); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		clock.Advance(60)
	}
	if open, _ := store.GetOpenOutage("m1"); open == nil {
		t.Fatal("expected open outage after 2 failures")
	}

	healthy.Store(true)
	for i := 0; i < 2; i++ {
		if err := s.RunTick(context.Background()); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		clock.Advance(60)
	}

	state, _ := store.GetMonitorState("m1")
	if state.Status != db.StatusUp {
		t.Errorf("expected recovery to up, got %s", state.Status)
	}
	if open, _ := store.GetOpenOutage("m1"); open != nil {
		t.Errorf("outage should be closed, still open: %+v", open)
	}
}

func TestRunTickMaintenanceSuppression(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer target.Close()

	var webhookHits int32
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhookHits, 1)
	}))
	defer webhook.Close()

	s, store, clock := newTestScheduler(t)
	m := createHTTPMonitor(t, store, "m2", target.URL, clock.Now())
	// Only monitor transitions; the window's own started/ended
	// announcements are not under test here.
	if err := store.CreateChannel(db.NotificationChannel{
		ID: "c1", Name: "hook", CreatedAt: clock.Now(),
		Config: db.ChannelConfig{
			URL:           webhook.URL,
			EnabledEvents: []string{"monitor.down", "monitor.up"},
		},
	}); err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}

	windowID, err := store.CreateMaintenanceWindow(db.MaintenanceWindow{
		Title:     "planned work",
		StartsAt:  clock.Now() - 10,
		EndsAt:    clock.Now() + 3600,
		CreatedAt: clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateMaintenanceWindow failed: %v", err)
	}
	if err := store.LinkWindowMonitor(windowID, m.ID); err != nil {
		t.Fatalf("LinkWindowMonitor failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.RunTick(context.Background()); err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		clock.Advance(60)
	}

	state, _ := store.GetMonitorState("m2")
	if state.Status != db.StatusMaintenance {
		t.Errorf("expected maintenance state, got %s", state.Status)
	}
	checks, _ := store.GetCheckResults("m2", 0, clock.Now()+1)
	for _, c := range checks {
		if c.Status != db.StatusMaintenance {
			t.Errorf("check at %d recorded as %s, want maintenance", c.CheckedAt, c.Status)
		}
	}
	if open, _ := store.GetOpenOutage("m2"); open != nil {
		t.Error("maintenance must not open outages")
	}
	if atomic.LoadInt32(&webhookHits) != 0 {
		t.Error("maintenance must suppress notifications")
	}
}

func TestRunTickAnnouncesMaintenance(t *testing.T) {
	type hit struct {
		event string
		id    float64
	}
	hitCh := make(chan hit, 10)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		event, _ := payload["event"].(string)
		id, _ := payload["window_id"].(float64)
		hitCh <- hit{event: event, id: id}
		w.WriteHeader(http.StatusOK)
	}))
	defer webhook.Close()

	s, store, clock := newTestScheduler(t)
	if err := store.CreateChannel(db.NotificationChannel{
		ID: "c1", Name: "hook", CreatedAt: clock.Now(),
		Config: db.ChannelConfig{URL: webhook.URL},
	}); err != nil {
		t.Fatalf("CreateChannel failed: %v", err)
	}

	windowID, err := store.CreateMaintenanceWindow(db.MaintenanceWindow{
		Title: "upgrade", StartsAt: clock.Now(), EndsAt: clock.Now() + 90, CreatedAt: clock.Now(),
	})
	if err != nil {
		t.Fatalf("CreateMaintenanceWindow failed: %v", err)
	}

	drain := func() []hit {
		var hits []hit
		for {
			select {
			case h := <-hitCh:
				hits = append(hits, h)
			default:
				return hits
			}
		}
	}

	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	hits := drain()
	if len(hits) != 1 || hits[0].event != "maintenance.started" || int64(hits[0].id) != windowID {
		t.Fatalf("expected one maintenance.started, got %+v", hits)
	}

	// Still active next tick: the ledger already holds the claim.
	clock.Advance(60)
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if hits := drain(); len(hits) != 0 {
		t.Fatalf("maintenance.started must not repeat, got %+v", hits)
	}

	// Window ended within the lookback: exactly one maintenance.ended.
	clock.Advance(60)
	if err := s.RunTick(context.Background()); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	hits = drain()
	if len(hits) != 1 || hits[0].event != "maintenance.ended" {
		t.Fatalf("expected one maintenance.ended, got %+v", hits)
	}
}

func TestDailyRollupAndRetention(t *testing.T) {
	s, store, clock := newTestScheduler(t)
	s.cfg.RetentionDays = 1

	day0 := int64(1_700_000_000)
	day0 -= day0 % 86400

	m := db.Monitor{
		ID: "m1", Name: "API", Type: db.MonitorTypeHTTP, Active: true,
		IntervalSec: 60, TimeoutMs: 5000, FailuresToDown: 2, SuccessesToUp: 2,
		CreatedAt: day0, Config: db.MonitorConfig{URL: "https://example.com"},
	}
	if err := store.CreateMonitor(m); err != nil {
		t.Fatalf("CreateMonitor failed: %v", err)
	}

	// A day of up results with one 600s outage in the middle.
	lat := int64(40)
	for ts := day0 + 60; ts < day0+86400; ts += 60 {
		err := store.ApplyCheck(context.Background(), db.CheckApply{
			Result: db.CheckResult{MonitorID: "m1", CheckedAt: ts, Status: db.StatusUp, LatencyMs: &lat},
			State:  db.MonitorState{MonitorID: "m1", Status: db.StatusUp, LastCheckedAt: &ts},
		})
		if err != nil {
			t.Fatalf("ApplyCheck failed: %v", err)
		}
	}
	ended := day0 + 4200
	err := store.ApplyCheck(context.Background(), db.CheckApply{
		Result: db.CheckResult{MonitorID: "m1", CheckedAt: day0 + 3601, Status: db.StatusDown, Error: "timeout"},
		State:  db.MonitorState{MonitorID: "m1", Status: db.StatusDown},
		OpenOutage: &db.Outage{
			ID: "o1", MonitorID: "m1", StartedAt: day0 + 3600, InitialError: "timeout",
		},
	})
	if err != nil {
		t.Fatalf("ApplyCheck failed: %v", err)
	}
	if _, err := store.GetOpenOutage("m1"); err != nil {
		t.Fatalf("GetOpenOutage failed: %v", err)
	}
	err = store.ApplyCheck(context.Background(), db.CheckApply{
		Result:        db.CheckResult{MonitorID: "m1", CheckedAt: day0 + 4201, Status: db.StatusUp, LatencyMs: &lat},
		State:         db.MonitorState{MonitorID: "m1", Status: db.StatusUp},
		CloseOutageAt: &ended,
	})
	if err != nil {
		t.Fatalf("ApplyCheck failed: %v", err)
	}

	// Next day, past the boundary: the daily jobs roll day0 and purge.
	clock.Set(day0 + 86400 + 3600)
	if err := s.runDailyJobs(context.Background(), clock.Now()); err != nil {
		t.Fatalf("runDailyJobs failed: %v", err)
	}

	rollups, err := store.GetRollups("m1", day0, day0+86400)
	if err != nil {
		t.Fatalf("GetRollups failed: %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected 1 rollup for day0, got %d", len(rollups))
	}
	r := rollups[0]
	if r.TotalSec != 86400 {
		t.Errorf("total_sec = %d, want 86400", r.TotalSec)
	}
	if r.DowntimeSec != 600 {
		t.Errorf("downtime_sec = %d, want 600", r.DowntimeSec)
	}
	if r.DowntimeSec+r.UnknownSec+r.UptimeSec != r.TotalSec {
		t.Errorf("rollup accounting does not add up: %+v", r)
	}

	// Retention of 1 day purges everything before now-86400 and nothing
	// newer.
	cutoff := clock.Now() - 86400
	oldChecks, _ := store.GetCheckResults("m1", 0, cutoff)
	if len(oldChecks) != 0 {
		t.Errorf("expected checks before the cutoff purged, %d remain", len(oldChecks))
	}
	kept, _ := store.GetCheckResults("m1", cutoff, clock.Now())
	if len(kept) == 0 {
		t.Error("retention must not delete rows inside the retention window")
	}

	// Re-running inside the same day is a no-op.
	if err := s.runDailyJobs(context.Background(), clock.Now()); err != nil {
		t.Fatalf("second runDailyJobs failed: %v", err)
	}
}
