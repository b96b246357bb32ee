package timelapse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"raster-timelapse/internal/platform/metrics"
)

var testBounds = Bounds{-10, 30, 40, 70}

func testEntries() []CatalogEntry {
	return []CatalogEntry{
		{Datetime: "20200101T000000", VMin: 0, VMax: 800},
		{Datetime: "20200101T001500", VMin: 0, VMax: 900},
		{Datetime: "20200101T003000", VMin: 10, VMax: 1000},
	}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(testEntries())
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

// --- metadata fetchers ---

type fetchReply struct {
	bounds Bounds
	err    error
}

type pendingFetch struct {
	path  string
	reply chan fetchReply
}

func (p *pendingFetch) succeed() { p.reply <- fetchReply{bounds: testBounds} }

func (p *pendingFetch) fail(err error) { p.reply <- fetchReply{err: err} }

// scriptedFetcher blocks every call until the test releases it.
type scriptedFetcher struct {
	calls chan *pendingFetch
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{calls: make(chan *pendingFetch, 64)}
}

func (f *scriptedFetcher) FetchBounds(ctx context.Context, rasterPath string) (Bounds, error) {
	p := &pendingFetch{path: rasterPath, reply: make(chan fetchReply, 1)}
	f.calls <- p
	select {
	case r := <-p.reply:
		return r.bounds, r.err
	case <-ctx.Done():
		return Bounds{}, &MetadataError{Kind: ErrMetadataNetwork, Path: rasterPath, Err: ctx.Err()}
	}
}

// next returns the next n calls keyed by raster path.
func (f *scriptedFetcher) next(t *testing.T, n int) map[string]*pendingFetch {
	t.Helper()
	out := make(map[string]*pendingFetch, n)
	for i := 0; i < n; i++ {
		select {
		case p := <-f.calls:
			out[p.path] = p
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d fetches, got %d", n, i)
		}
	}
	return out
}

// staticFetcher answers immediately; paths listed in fail get that error.
type staticFetcher struct {
	mu    sync.Mutex
	fail  map[string]error
	paths []string
}

func (f *staticFetcher) FetchBounds(_ context.Context, rasterPath string) (Bounds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, rasterPath)
	if err, ok := f.fail[rasterPath]; ok {
		return Bounds{}, err
	}
	return testBounds, nil
}

func (f *staticFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

// --- map handle ---

// recordingMap keeps the source and layer sets a real map would hold and
// checks that no commit leaves it with more or fewer than one data overlay
// once one has been shown.
type recordingMap struct {
	mu      sync.Mutex
	t       *testing.T
	commits [][]MapOp
	sources map[string]bool
	layers  map[string]string
	legend  *Legend
	shown   bool
	failing error
}

func newRecordingMap(t *testing.T) *recordingMap {
	return &recordingMap{t: t, sources: map[string]bool{}, layers: map[string]string{}}
}

func (m *recordingMap) Commit(_ context.Context, ops []MapOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return m.failing
	}

	sources := make(map[string]bool, len(m.sources))
	for k, v := range m.sources {
		sources[k] = v
	}
	layers := make(map[string]string, len(m.layers))
	for k, v := range m.layers {
		layers[k] = v
	}
	for _, op := range ops {
		switch op.Kind {
		case OpAddSource:
			if sources[op.ID] {
				return fmt.Errorf("source %q already exists", op.ID)
			}
			sources[op.ID] = true
		case OpAddLayer:
			if !sources[op.Layer.Source] {
				return fmt.Errorf("layer %q references missing source %q", op.ID, op.Layer.Source)
			}
			if _, ok := layers[op.ID]; ok {
				return fmt.Errorf("layer %q already exists", op.ID)
			}
			layers[op.ID] = op.Layer.Source
		case OpRemoveLayer:
			if _, ok := layers[op.ID]; !ok {
				return fmt.Errorf("remove of missing layer %q", op.ID)
			}
			delete(layers, op.ID)
		case OpRemoveSource:
			for id, src := range layers {
				if src == op.ID {
					return fmt.Errorf("source %q still used by layer %q", op.ID, id)
				}
			}
			delete(sources, op.ID)
		case OpSetLegend:
			l := *op.Legend
			m.legend = &l
		}
	}

	overlays := 0
	for id := range layers {
		if strings.HasPrefix(id, "data-layer-") {
			overlays++
		}
	}
	if overlays > 1 || (m.shown && overlays == 0) {
		m.t.Errorf("commit left %d data overlays: %v", overlays, ops)
	}
	if overlays == 1 {
		m.shown = true
	}

	m.sources, m.layers = sources, layers
	m.commits = append(m.commits, ops)
	return nil
}

func (m *recordingMap) setFailing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = err
}

func (m *recordingMap) dataLayers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := range m.layers {
		if strings.HasPrefix(id, "data-layer-") {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (m *recordingMap) commitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commits)
}

func (m *recordingMap) lastCommit() []MapOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.commits) == 0 {
		return nil
	}
	return m.commits[len(m.commits)-1]
}

// --- notifications ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *recordingNotifier) failures() []Notification {
	var out []Notification
	for _, msg := range n.all() {
		if msg.Level == LevelError {
			out = append(out, msg)
		}
	}
	return out
}

// blockingNotifier holds every error notification until release is closed.
type blockingNotifier struct {
	recordingNotifier
	entered chan struct{}
	release chan struct{}
}

func newBlockingNotifier() *blockingNotifier {
	return &blockingNotifier{entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (n *blockingNotifier) Notify(ctx context.Context, msg Notification) error {
	if msg.Level == LevelError {
		n.entered <- struct{}{}
		select {
		case <-n.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return n.recordingNotifier.Notify(ctx, msg)
}

func (n *blockingNotifier) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-n.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier never called")
	}
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Notification) error { return errBoom }

// returnsWithin fails the test if fn blocks for longer than d.
func returnsWithin(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for more than %v", what, d)
	}
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

// --- clock ---

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// fakeClock only fires timers when the test says so.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending returns the timers that are neither stopped nor fired.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the oldest pending timer and reports whether there was one.
func (c *fakeClock) fire() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	c.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

// --- outcomes ---

func observe(s *Synchronizer) <-chan Outcome {
	ch := make(chan Outcome, 64)
	s.Observe(func(o Outcome) { ch <- o })
	return ch
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

var errBoom = errors.New("boom")
