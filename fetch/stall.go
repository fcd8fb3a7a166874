package fetch

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// errStalled is wrapped in a FetchError when the stall watchdog fires.
var errStalled = errors.New("download stalled")

// stallTickInterval and stallProjectionCeiling implement spec §4.E's
// timeout policy (b): every minute, compare bytes received since the last
// tick; if contentLength is known and the projected remaining time at the
// current rate exceeds 3 hours, mark a stall. Exposed as vars so tests can
// shrink them rather than waiting real wall-clock minutes/hours.
var (
	stallTickInterval      = time.Minute
	stallProjectionCeiling = 3 * time.Hour
)

// stallWatcher wraps a response body and fails the next Read once the
// watchdog goroutine decides the transfer has stalled.
type stallWatcher struct {
	r             io.ReadCloser
	contentLength int64 // -1 if unknown

	total   int64 // atomic: total bytes read so far
	stalled int32 // atomic bool

	stop chan struct{}
}

func newStallWatcher(r io.ReadCloser, contentLength int64) *stallWatcher {
	w := &stallWatcher{r: r, contentLength: contentLength, stop: make(chan struct{})}
	if contentLength >= 0 {
		go w.watch()
	}
	return w
}

func (w *stallWatcher) watch() {
	ticker := time.NewTicker(stallTickInterval)
	defer ticker.Stop()
	var lastTotal int64
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			total := atomic.LoadInt64(&w.total)
			sinceLastTick := total - lastTotal
			lastTotal = total

			remaining := w.contentLength - total
			if remaining <= 0 {
				continue
			}
			if sinceLastTick <= 0 {
				// No progress this tick and bytes remain: the projected
				// remaining time is infinite.
				atomic.StoreInt32(&w.stalled, 1)
				continue
			}
			rate := float64(sinceLastTick) / stallTickInterval.Seconds()
			projected := time.Duration(float64(remaining)/rate) * time.Second
			if projected > stallProjectionCeiling {
				atomic.StoreInt32(&w.stalled, 1)
			}
		}
	}
}

func (w *stallWatcher) Read(p []byte) (int, error) {
	if atomic.LoadInt32(&w.stalled) == 1 {
		return 0, errStalled
	}
	n, err := w.r.Read(p)
	atomic.AddInt64(&w.total, int64(n))
	if atomic.LoadInt32(&w.stalled) == 1 && err == nil {
		err = errStalled
	}
	return n, err
}

func (w *stallWatcher) Close() error {
	close(w.stop)
	return w.r.Close()
}
