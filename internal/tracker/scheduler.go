package tracker

import (
	"sync"
	"time"
)

// FrameHandle identifies a pending frame callback. Zero is never issued.
type FrameHandle uint64

// Scheduler runs callbacks once per display refresh.
type Scheduler interface {
	// RequestFrame queues fn to run on the next refresh.
	RequestFrame(fn func(time.Time)) FrameHandle
	// CancelFrame drops a pending callback. Unknown handles are ignored.
	CancelFrame(h FrameHandle)
}

// RefreshScheduler is a ticker driven Scheduler. All callbacks run one after
// another on a single goroutine; a callback requested during a refresh runs
// on the following one.
type RefreshScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	next    FrameHandle
	pending map[FrameHandle]func(time.Time)
	order   []FrameHandle

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRefreshScheduler starts a scheduler refreshing hz times per second.
func NewRefreshScheduler(hz float64) *RefreshScheduler {
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	s := &RefreshScheduler{
		interval: time.Duration(float64(time.Second) / hz),
		pending:  make(map[FrameHandle]func(time.Time)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RefreshScheduler) RequestFrame(fn func(time.Time)) FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.pending[s.next] = fn
	s.order = append(s.order, s.next)
	return s.next
}

func (s *RefreshScheduler) CancelFrame(h FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Pending returns how many callbacks wait for the next refresh.
func (s *RefreshScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the refresh goroutine and waits for a running callback to
// return. Pending callbacks never run.
func (s *RefreshScheduler) Close() {
	s.Shutdown()
	<-s.done
}

// Shutdown stops the refresh goroutine without waiting for it. Unlike Close
// it is safe to call from a callback.
func (s *RefreshScheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *RefreshScheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case t := <-ticker.C:
			s.flush(t)
		}
	}
}

// flush runs the callbacks queued before this refresh began.
func (s *RefreshScheduler) flush(t time.Time) {
	s.mu.Lock()
	batch := s.order
	s.order = nil
	s.mu.Unlock()

	for _, h := range batch {
		// Re-check each handle, an earlier callback may have cancelled it
		s.mu.Lock()
		fn, ok := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()
		if ok {
			fn(t)
		}
	}
}
