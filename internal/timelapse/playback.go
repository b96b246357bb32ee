package timelapse

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"raster-timelapse/internal/platform/metrics"
)

// DefaultPlaybackInterval is the time between playback ticks (2 frames per second).
const DefaultPlaybackInterval = 500 * time.Millisecond

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed calls.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Scheduler drives playback: while running it advances the current index by
// one every interval, wrapping to 0 after the last timestamp, and asks show to
// display it. Ticks never wait for the layer swap they trigger.
//
// The scheduler owns the current index; seeking goes through it too.
type Scheduler struct {
	catalog  *Catalog
	show     func(index int) error
	interval time.Duration
	clock    Clock
	log      *slog.Logger
	metrics  *metrics.Metrics

	// showMu is taken before mu is released so show calls happen in the
	// order of the transitions that caused them.
	showMu sync.Mutex

	mu      sync.Mutex
	running bool
	current int
	timer   Timer
	// gen invalidates ticks scheduled before the last pause.
	gen uint64
}

// NewScheduler returns a stopped scheduler at index 0. Non-positive interval
// means DefaultPlaybackInterval; nil clock means SystemClock.
func NewScheduler(catalog *Catalog, show func(index int) error, interval time.Duration, clock Clock, log *slog.Logger, m *metrics.Metrics) *Scheduler {
	if interval <= 0 {
		interval = DefaultPlaybackInterval
	}
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		catalog:  catalog,
		show:     show,
		interval: interval,
		clock:    clock,
		log:      log,
		metrics:  m,
	}
}

// Start begins playback. It is a no-op when already running and fails with
// ErrEmptyCatalog when there is nothing to play. The first tick is
// dispatched immediately.
func (p *Scheduler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.catalog.Len() == 0 {
		return ErrEmptyCatalog
	}

	p.running = true
	p.gen++
	gen := p.gen
	p.timer = p.clock.AfterFunc(0, func() { p.tick(gen) })
	p.checkLocked()

	p.log.Info("playback started", slog.Int("index", p.current))
	return nil
}

func (p *Scheduler) tick(gen uint64) {
	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}

	p.current = (p.current + 1) % p.catalog.Len()
	index := p.current
	// The next tick is timed from this dispatch, not from the layer swap.
	p.timer = p.clock.AfterFunc(p.interval, func() { p.tick(gen) })
	p.checkLocked()
	p.metrics.IncPlaybackTicks()

	if err := p.showUnlock(index); err != nil {
		p.log.Warn("playback tick failed", slog.Int("index", index), slog.String("error", err.Error()))
	}
}

// showUnlock releases p.mu and shows index. Caller must hold p.mu.
func (p *Scheduler) showUnlock(index int) error {
	p.showMu.Lock()
	p.mu.Unlock()
	defer p.showMu.Unlock()
	return p.show(index)
}

// Pause stops playback and cancels the pending tick. It is idempotent.
func (p *Scheduler) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pauseLocked() {
		p.log.Info("playback paused", slog.Int("index", p.current))
	}
}

func (p *Scheduler) pauseLocked() bool {
	defer p.checkLocked()
	if !p.running {
		return false
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.gen++
	return true
}

// Reset pauses, rewinds to index 0 and shows it.
func (p *Scheduler) Reset() error {
	p.mu.Lock()
	p.pauseLocked()
	p.current = 0
	if p.catalog.Len() == 0 {
		p.mu.Unlock()
		return ErrEmptyCatalog
	}
	p.log.Info("playback reset")
	return p.showUnlock(0)
}

// Seek jumps to index and shows it without changing the running state.
func (p *Scheduler) Seek(index int) error {
	p.mu.Lock()
	if _, err := p.catalog.At(index); err != nil {
		p.mu.Unlock()
		return err
	}
	p.current = index
	return p.showUnlock(index)
}

// Refresh shows the current index again, e.g. after the selection changed.
func (p *Scheduler) Refresh() error {
	p.mu.Lock()
	if p.catalog.Len() == 0 {
		p.mu.Unlock()
		return ErrEmptyCatalog
	}
	return p.showUnlock(p.current)
}

// State returns a snapshot of the playback state.
func (p *Scheduler) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PlaybackState{Running: p.running, CurrentIndex: p.current}
}

// Interval returns the tick interval.
func (p *Scheduler) Interval() time.Duration {
	return p.interval
}

// checkLocked asserts that a tick is pending exactly when playback runs.
func (p *Scheduler) checkLocked() {
	if p.running != (p.timer != nil) {
		panic(fmt.Sprintf("timelapse: playback invariant violated: running=%v timer=%v", p.running, p.timer != nil))
	}
}
