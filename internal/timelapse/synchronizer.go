package timelapse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"raster-timelapse/internal/platform/metrics"
)

const (
	notifyTimeout = 2 * time.Second
	tileSize      = 256
)

// Outcome reports how one layer request ended.
type Outcome struct {
	Request LayerRequest
	State   SlotState // SlotApplied, SlotDiscarded or SlotFailed
	Err     error
	Active  *ActiveLayerState // set when State is SlotApplied
}

// presentation holds the user's display preferences for the overlay. They
// survive layer swaps so a new frame looks like the one it replaces.
type presentation struct {
	opacity        float64
	visible        bool
	basemap        string
	basemapOpacity float64
}

// Synchronizer owns the single overlay slot. Any number of requests may be in
// flight; only the one with the highest sequence number submitted so far can
// change what the map shows, so the overlay converges on the most recently
// requested timestamp whatever order the responses arrive in.
//
// The synchronizer is the only writer of overlay state on the map handle.
// Commits and notifications run outside the lock Request takes, so a slow
// map or notifier never delays new requests.
type Synchronizer struct {
	fetcher  MetadataFetcher
	handle   MapHandle
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// commitMu serializes map commits and the state they produce. It is
	// taken before mu and never by Request.
	commitMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	slot        SlotState
	latest      uint64
	lastApplied uint64
	active      *ActiveLayerState
	pres        presentation
	observers   []func(Outcome)
}

// NewSynchronizer returns an idle synchronizer. notifier and m may be nil.
func NewSynchronizer(fetcher MetadataFetcher, handle MapHandle, notifier Notifier, log *slog.Logger, m *metrics.Metrics) *Synchronizer {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		fetcher:  fetcher,
		handle:   handle,
		notifier: notifier,
		log:      log,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		pres:     presentation{opacity: 1, visible: true, basemap: DefaultBasemap, basemapOpacity: 1},
	}
}

// Observe registers fn to be called with every request outcome. fn runs on
// the fetch goroutine and must not block for long.
func (s *Synchronizer) Observe(fn func(Outcome)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Request starts fetching metadata for req and returns immediately.
// Earlier requests still in flight are not aborted; their results will be
// discarded. A request older than one already submitted is discarded without
// fetching. It returns false if the request was not started.
func (s *Synchronizer) Request(req LayerRequest) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if req.Sequence < s.latest {
		s.mu.Unlock()
		s.log.Debug("request older than latest, discarding",
			slog.Uint64("sequence", req.Sequence),
			slog.Uint64("latest", s.latestSnapshot()))
		s.metrics.IncLayerOutcome(metrics.OutcomeDiscarded)
		s.emit(Outcome{Request: req, State: SlotDiscarded})
		return false
	}
	s.latest = req.Sequence
	s.slot = SlotFetching
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.IncLayerRequests()
	s.log.Debug("layer requested",
		slog.Uint64("sequence", req.Sequence),
		slog.Int("index", req.Index),
		slog.String("timestamp", string(req.Timestamp)),
		slog.String("colormap", req.Colormap))

	go s.fetch(req)
	return true
}

func (s *Synchronizer) fetch(req LayerRequest) {
	defer s.wg.Done()

	start := time.Now()
	bounds, err := s.fetcher.FetchBounds(s.ctx, req.Descriptor().RasterPath)
	s.metrics.ObserveFetch(time.Since(start))

	s.complete(req, bounds, err)
}

// complete decides whether a finished fetch may touch the map. Only the
// latest submitted request is applied or reported; everything else is stale.
func (s *Synchronizer) complete(req LayerRequest, bounds Bounds, fetchErr error) {
	s.commitMu.Lock()

	s.mu.Lock()
	if s.closed || req.Sequence != s.latest {
		latest := s.latest
		s.mu.Unlock()
		s.commitMu.Unlock()
		s.log.Debug("stale layer result discarded",
			slog.Uint64("sequence", req.Sequence),
			slog.Uint64("latest", latest),
			slog.Bool("failed", fetchErr != nil))
		s.metrics.IncLayerOutcome(metrics.OutcomeDiscarded)
		s.emit(Outcome{Request: req, State: SlotDiscarded, Err: fetchErr})
		return
	}
	s.mu.Unlock()

	err := fetchErr
	var active ActiveLayerState
	if err == nil {
		active, err = s.apply(req, bounds)
	}

	s.mu.Lock()
	if s.latest == req.Sequence {
		if err != nil {
			s.slot = SlotFailed
		} else {
			s.slot = SlotApplied
		}
	}
	s.mu.Unlock()
	s.commitMu.Unlock()

	if err != nil {
		s.surface(req, err)
		s.metrics.IncLayerOutcome(metrics.OutcomeFailed)
		s.emit(Outcome{Request: req, State: SlotFailed, Err: err})
		return
	}

	s.metrics.IncLayerOutcome(metrics.OutcomeApplied)
	s.log.Debug("layer applied",
		slog.Uint64("sequence", req.Sequence),
		slog.String("timestamp", string(req.Timestamp)))
	s.emit(Outcome{Request: req, State: SlotApplied, Active: &active})
}

// apply swaps the overlay in one committed batch. The new source and layer
// are added before the old ones are removed, so the map is never without an
// overlay, and the old one is gone once the batch lands. The previous state
// is kept if the commit fails. Caller must hold s.commitMu.
func (s *Synchronizer) apply(req LayerRequest, bounds Bounds) (ActiveLayerState, error) {
	s.mu.Lock()
	pres := s.pres
	var old *ActiveLayerState
	if s.active != nil {
		cp := *s.active
		old = &cp
	}
	s.mu.Unlock()

	desc := req.Descriptor()
	next := ActiveLayerState{
		Sequence:   req.Sequence,
		Index:      req.Index,
		Timestamp:  req.Timestamp,
		Scaling:    req.Scaling,
		Bounds:     bounds,
		Descriptor: desc,
		Colormap:   req.Colormap,
		Legend: Legend{
			Colormap: req.Colormap,
			Min:      req.Scaling.Min,
			Max:      req.Scaling.Max,
			Gradient: gradientFor(req.Colormap),
		},
		Opacity:  pres.opacity,
		Visible:  pres.visible,
		SourceID: fmt.Sprintf("data-source-%d", req.Sequence),
		LayerID:  fmt.Sprintf("data-layer-%d", req.Sequence),
	}

	ops := overlayOps(next)
	if old != nil {
		last := ops[len(ops)-1]
		ops = append(ops[:len(ops)-1], removeLayerOp(old.LayerID), removeSourceOp(old.SourceID), last)
	}

	if err := s.handle.Commit(s.ctx, ops); err != nil {
		return ActiveLayerState{}, fmt.Errorf("apply layer %d: %w", req.Sequence, err)
	}

	next.AppliedAt = time.Now().UTC()
	s.mu.Lock()
	s.active = &next
	s.lastApplied = req.Sequence
	s.mu.Unlock()
	return next, nil
}

// overlayOps adds the source and layer of a and sets its legend.
func overlayOps(a ActiveLayerState) []MapOp {
	visibility := "visible"
	if !a.Visible {
		visibility = "none"
	}
	b := a.Bounds
	return []MapOp{
		addSourceOp(a.SourceID, RasterSource{
			Type:     "raster",
			Tiles:    []string{a.Descriptor.TileURL},
			TileSize: tileSize,
			Bounds:   &b,
		}),
		addLayerOp(RasterLayer{
			ID:     a.LayerID,
			Type:   "raster",
			Source: a.SourceID,
			Layout: map[string]any{PropVisibility: visibility},
			Paint: map[string]any{
				PropRasterOpacity:    a.Opacity,
				PropRasterResampling: "nearest",
			},
		}),
		setLegendOp(a.Legend),
	}
}

// surface reports a failure of req if it is still the latest request.
func (s *Synchronizer) surface(req LayerRequest, err error) {
	s.log.Warn("layer update failed",
		slog.Uint64("sequence", req.Sequence),
		slog.String("timestamp", string(req.Timestamp)),
		slog.String("error", err.Error()))
	if s.notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	if s.Latest() != req.Sequence {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	n := Notification{Level: LevelError, Message: "Error: " + err.Error(), Time: time.Now().UTC()}
	if nerr := s.notifier.Notify(ctx, n); nerr != nil {
		s.log.Error("notify failed", slog.String("error", nerr.Error()))
		return
	}
	s.metrics.IncNotifications()
}

// restyle lets the compositor change presentation of the overlay without a
// fetch. fn may edit the preferences and, when a layer is active, its
// opacity, visibility and legend; other fields are ignored. fn returns the
// ops to commit. It reports whether a layer was active.
func (s *Synchronizer) restyle(ctx context.Context, fn func(p *presentation, active *ActiveLayerState) []MapOp) (bool, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	pres := s.pres
	var next *ActiveLayerState
	if s.active != nil {
		cp := *s.active
		next = &cp
	}
	s.mu.Unlock()

	ops := fn(&pres, next)
	if len(ops) > 0 {
		if err := s.handle.Commit(ctx, ops); err != nil {
			return next != nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pres = pres
	if s.active != nil && next != nil {
		s.active.Opacity = next.Opacity
		s.active.Visible = next.Visible
		s.active.Legend = next.Legend
	}
	return s.active != nil, nil
}

// Active returns a copy of the current overlay state.
func (s *Synchronizer) Active() (ActiveLayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ActiveLayerState{}, false
	}
	return *s.active, true
}

// State returns the slot state of the latest request.
func (s *Synchronizer) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

// Latest returns the highest sequence number submitted.
func (s *Synchronizer) Latest() uint64 {
	return s.latestSnapshot()
}

// LastApplied returns the sequence number of the active overlay, 0 if none.
func (s *Synchronizer) LastApplied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

func (s *Synchronizer) latestSnapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Wait blocks until every started fetch has completed.
func (s *Synchronizer) Wait() {
	s.wg.Wait()
}

// Close rejects new requests, aborts in-flight fetches and waits for them.
// Their results are discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Synchronizer) emit(o Outcome) {
	s.mu.Lock()
	observers := make([]func(Outcome), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(o)
	}
}
