package driveops

import (
	"sync"
	"sync/atomic"
)

// defaultProgressBuffer is the dispatcher queue length when none is given.
const defaultProgressBuffer = 64

// ChunkProgress is a snapshot of one file's upload. Counters are monotonic
// for a given session.
type ChunkProgress struct {
	FileName    string
	BytesSent   int64
	TotalBytes  int64
	ChunksSent  int64
	TotalChunks int64
	Done        bool
}

// ProgressObserver receives progress snapshots.
type ProgressObserver interface {
	OnProgress(p ChunkProgress)
}

// ProgressFunc adapts a function to ProgressObserver.
type ProgressFunc func(p ChunkProgress)

// OnProgress implements ProgressObserver.
func (f ProgressFunc) OnProgress(p ChunkProgress) { f(p) }

// ProgressDispatcher delivers snapshots to an observer on its own goroutine.
// An intermediate snapshot is dropped when the queue is full, so a slow
// observer only loses updates. A Done snapshot waits for room instead: it
// is the one that takes a bar to 100%.
// A nil *ProgressDispatcher discards everything.
type ProgressDispatcher struct {
	ch      chan ChunkProgress
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewProgressDispatcher starts delivering to obs. buffer <= 0 selects a
// default queue length. Call Close to stop.
func NewProgressDispatcher(obs ProgressObserver, buffer int) *ProgressDispatcher {
	if buffer <= 0 {
		buffer = defaultProgressBuffer
	}

	d := &ProgressDispatcher{
		ch:   make(chan ChunkProgress, buffer),
		done: make(chan struct{}),
	}

	go func() {
		defer close(d.done)

		for p := range d.ch {
			obs.OnProgress(p)
		}
	}()

	return d
}

// Publish enqueues p. Returns false if it was dropped.
// Done snapshots are never dropped while the dispatcher is open.
func (d *ProgressDispatcher) Publish(p ChunkProgress) bool {
	if d == nil {
		return false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	if p.Done {
		d.ch <- p
		return true
	}

	select {
	case d.ch <- p:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Dropped returns how many snapshots were discarded.
func (d *ProgressDispatcher) Dropped() int64 {
	if d == nil {
		return 0
	}

	return d.dropped.Load()
}

// Close stops accepting snapshots, drains the queue to the observer and
// waits for delivery to finish. Safe to call more than once.
func (d *ProgressDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	<-d.done
}
