package status

import (
	"context"
	"encoding/json"
	"fmt"
)

// SnapshotKey is the public_snapshots row the status page lives under.
const SnapshotKey = "status"

// Served is what the HTTP layer gets back: the snapshot body plus enough
// freshness information to set cache headers.
type Served struct {
	Body        []byte
	GeneratedAt int64
	// RemainingFreshSec is how long the body may still be cached for; zero
	// when a bounded-stale fallback was served.
	RemainingFreshSec int64
}

// Serve returns the status page, preferring a fresh snapshot, recomputing on
// miss, kicking a background refresh once a snapshot ages past the refresh
// threshold, and falling back to a bounded-stale snapshot when recompute
// fails. Unbounded-stale content is never served.
func (a *Aggregator) Serve(ctx context.Context) (Served, error) {
	now := a.nowFn()

	snap, err := a.store.GetSnapshot(SnapshotKey)
	if err != nil {
		return Served{}, err
	}

	if snap != nil {
		age := now - snap.GeneratedAt
		if age < a.FreshSec {
			if age >= a.RefreshSec {
				a.refreshInBackground()
			}
			return Served{
				Body:              snap.Body,
				GeneratedAt:       snap.GeneratedAt,
				RemainingFreshSec: a.FreshSec - age,
			}, nil
		}
	}

	body, err := a.Refresh(ctx, now)
	if err != nil {
		if snap != nil && now-snap.GeneratedAt <= a.MaxStaleSec {
			a.log.Printf("serving bounded-stale snapshot after recompute failure: %v", err)
			return Served{Body: snap.Body, GeneratedAt: snap.GeneratedAt}, nil
		}
		return Served{}, fmt.Errorf("status recompute: %w", err)
	}
	return Served{Body: body, GeneratedAt: now, RemainingFreshSec: a.FreshSec}, nil
}

// Refresh recomputes the page at now and writes it through to the snapshot
// table.
func (a *Aggregator) Refresh(ctx context.Context, now int64) ([]byte, error) {
	page, err := a.buildFn(ctx, now)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	if err := a.store.PutSnapshot(SnapshotKey, now, body); err != nil {
		return nil, err
	}
	return body, nil
}

// refreshInBackground starts at most one concurrent refresh.
func (a *Aggregator) refreshInBackground() {
	select {
	case a.refreshing <- struct{}{}:
	default:
		return
	}
	go func() {
		defer func() { <-a.refreshing }()
		if _, err := a.Refresh(context.Background(), a.nowFn()); err != nil {
			a.log.Printf("background snapshot refresh failed: %v", err)
		}
	}()
}
