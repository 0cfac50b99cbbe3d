package room

import (
	"sync"
	"time"
)

// Watchdog is a per-speaker-session dual-stream idle timer. It fires
// onTrigger at most once per idle episode when both the STT-event stream
// and the PCM-heartbeat stream have gone quiet past their own thresholds
// simultaneously; touching either stream re-arms it.
type Watchdog struct {
	mu         sync.Mutex
	eventIdle  time.Duration
	pcmIdle    time.Duration
	lastEvent  time.Time
	lastPCM    time.Time
	fired      bool
	onTrigger  func()
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewWatchdog starts a watchdog for one speaker session. onTrigger is
// called from the watchdog's own goroutine, at most once per idle
// episode, when both streams have exceeded their idle threshold.
func NewWatchdog(eventIdle, pcmIdle time.Duration, onTrigger func()) *Watchdog {
	if eventIdle <= 0 {
		eventIdle = 12 * time.Second
	}
	if pcmIdle <= 0 {
		pcmIdle = 7 * time.Second
	}

	now := time.Now()
	w := &Watchdog{
		eventIdle: eventIdle,
		pcmIdle:   pcmIdle,
		lastEvent: now,
		lastPCM:   now,
		onTrigger: onTrigger,
		stop:      make(chan struct{}),
	}
	go w.checkLoop()
	return w
}

func (w *Watchdog) checkLoop() {
	interval := w.pcmIdle
	if w.eventIdle < interval {
		interval = w.eventIdle
	}
	interval /= 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.check()
		case <-w.stop:
			return
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	eventStale := time.Since(w.lastEvent) > w.eventIdle
	pcmStale := time.Since(w.lastPCM) > w.pcmIdle
	shouldFire := eventStale && pcmStale && !w.fired
	if shouldFire {
		w.fired = true
	}
	w.mu.Unlock()

	if shouldFire && w.onTrigger != nil {
		w.onTrigger()
	}
}

// TouchEvent records a new STT event (a patch arrived), re-arming the
// watchdog for this stream.
func (w *Watchdog) TouchEvent() {
	w.mu.Lock()
	w.lastEvent = time.Now()
	w.fired = false
	w.mu.Unlock()
}

// TouchPCM records a new PCM heartbeat, re-arming the watchdog for this
// stream.
func (w *Watchdog) TouchPCM() {
	w.mu.Lock()
	w.lastPCM = time.Now()
	w.fired = false
	w.mu.Unlock()
}

// Stop terminates the watchdog's background goroutine. Safe to call
// multiple times.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
