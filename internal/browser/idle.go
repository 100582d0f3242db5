// internal/browser/idle.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 250 * time.Millisecond

// idleTracker counts in-flight requests of one tab from CDP network events.
// Requests are keyed by id so a redirect chain counts once.
type idleTracker struct {
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
}

func newIdleTracker(logger *zap.Logger) *idleTracker {
	return &idleTracker{
		logger:   logger,
		inflight: make(map[network.RequestID]struct{}),
	}
}

// attach subscribes the tracker to the target in ctx. The listener is removed
// when ctx is done.
func (t *idleTracker) attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, t.handle)
}

func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.mu.Lock()
		t.inflight[e.RequestID] = struct{}{}
		t.mu.Unlock()
	case *network.EventLoadingFinished:
		t.done(e.RequestID)
	case *network.EventLoadingFailed:
		t.done(e.RequestID)
	}
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

// wait blocks until no request has been in flight for quietPeriod.
func (t *idleTracker) wait(ctx context.Context, quietPeriod time.Duration) error {
	timer := time.NewTimer(quietPeriod)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	defer timer.Stop()

	idle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	// Evaluate immediately instead of losing the first tick.
	check := func() {
		if t.active() > 0 {
			if idle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				idle = false
			}
			return
		}
		if !idle {
			timer.Reset(quietPeriod)
			idle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		case <-timer.C:
			t.logger.Debug("Network is idle.")
			return nil
		}
	}
}
