package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dokzlo13/bulbsync/internal/clock"
	"github.com/dokzlo13/bulbsync/internal/reconcile"
)

// SyncTracker wraps a Syncer and remembers when the last pass succeeded.
type SyncTracker struct {
	inner reconcile.Syncer
	clock clock.Clock

	lastOK atomic.Int64 // unix nanos, 0 before the first success
}

// NewSyncTracker creates a tracker around inner.
func NewSyncTracker(inner reconcile.Syncer, clk clock.Clock) *SyncTracker {
	if clk == nil {
		clk = clock.New()
	}
	return &SyncTracker{inner: inner, clock: clk}
}

// Sync runs one pass and records its success time.
func (t *SyncTracker) Sync(ctx context.Context) bool {
	ok := t.inner.Sync(ctx)
	if ok {
		t.lastOK.Store(t.clock.Now().UnixNano())
	}
	return ok
}

// LastSuccess returns the time of the last successful pass.
func (t *SyncTracker) LastSuccess() (time.Time, bool) {
	n := t.lastOK.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}
