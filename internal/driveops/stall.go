package driveops

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// stallWatch wraps a chunk body and cancels the request when the transport
// goes timeout without pulling body bytes or, once the body is sent,
// without producing a response. Time spent inside Read, bandwidth-limiter
// waits included, does not count.
type stallWatch struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
	done    atomic.Bool
}

// watchStall derives a request context from ctx that is canceled when r
// stalls. setup extends the wait for the first Read to cover dialing and
// the TLS handshake. stop must be called once the request has returned.
func watchStall(
	ctx context.Context, r io.Reader, timeout, setup time.Duration,
) (context.Context, *stallWatch, func()) {
	cctx, cancel := context.WithCancel(ctx)

	w := &stallWatch{r: r, timeout: timeout}
	w.timer = time.AfterFunc(setup+timeout, func() {
		if w.done.Load() {
			return
		}

		w.stalled.Store(true)
		cancel()
	})

	stop := func() {
		w.done.Store(true)
		w.timer.Stop()
		cancel()
	}

	return cctx, w, stop
}

func (w *stallWatch) Read(p []byte) (int, error) {
	w.timer.Stop()
	n, err := w.r.Read(p)

	if !w.done.Load() {
		w.timer.Reset(w.timeout)
	}

	return n, err
}

// Stalled reports whether the watchdog fired.
func (w *stallWatch) Stalled() bool { return w.stalled.Load() }
