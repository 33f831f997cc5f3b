package device

import (
	"sync"
	"time"
)

// EventLoop is the single-threaded event dispatcher mentioned throughout
// the concurrency model: a periodic pump that drains every registered
// Frontend's to-frontend queue and delivers events synchronously to obs.
// Nothing here blocks on device I/O; all device interaction happened
// already, asynchronously, in each device's Runtime goroutine.
type EventLoop struct {
	mu        sync.Mutex
	frontends map[string]*Frontend
	obs       Observer
	interval  time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewEventLoop creates a dispatcher that pumps every interval.
func NewEventLoop(obs Observer, interval time.Duration) *EventLoop {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &EventLoop{
		frontends: make(map[string]*Frontend),
		obs:       obs,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Register adds a device's frontend to the pump rotation.
func (l *EventLoop) Register(f *Frontend) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frontends[f.Name()] = f
}

// Unregister removes a device's frontend from the pump rotation.
func (l *EventLoop) Unregister(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.frontends, name)
}

// PumpOnce drains every registered frontend's queue exactly once. Exposed
// directly so callers (tests, or a caller-driven loop instead of Run) can
// trigger a single dispatch pass deterministically.
func (l *EventLoop) PumpOnce() {
	l.mu.Lock()
	snapshot := make([]*Frontend, 0, len(l.frontends))
	for _, f := range l.frontends {
		snapshot = append(snapshot, f)
	}
	l.mu.Unlock()

	for _, f := range snapshot {
		f.Pump(l.obs)
	}
}

// Run starts the periodic pump loop; it returns when Stop is called.
func (l *EventLoop) Run() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.PumpOnce()
		}
	}
}

// Stop ends Run and waits for it to return.
func (l *EventLoop) Stop() {
	close(l.stop)
	<-l.done
}
