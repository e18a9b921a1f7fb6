package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const idleCheckFrequency = 100 * time.Millisecond

// idleTracker counts in-flight requests of one tab.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
}

func newIdleTracker() *idleTracker {
	return &idleTracker{inflight: make(map[network.RequestID]struct{})}
}

// listen subscribes to the tab's network events until ctx ends. The Network
// domain must be enabled for events to arrive.
func (t *idleTracker) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			t.mu.Lock()
			t.inflight[ev.RequestID] = struct{}{}
			t.mu.Unlock()
		case *network.EventLoadingFinished:
			t.done(ev.RequestID)
		case *network.EventLoadingFailed:
			t.done(ev.RequestID)
		}
	})
}

func (t *idleTracker) done(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.mu.Unlock()
}

func (t *idleTracker) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// wait blocks until no request has been in flight for quiet, or ctx ends.
func (t *idleTracker) wait(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(idleCheckFrequency)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		now := time.Now()
		if t.active() > 0 {
			idleSince = time.Time{}
		} else {
			if idleSince.IsZero() {
				idleSince = now
			}
			if now.Sub(idleSince) >= quiet {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
