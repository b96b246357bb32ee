package timelapse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"raster-timelapse/internal/platform/logger"
	"raster-timelapse/internal/platform/metrics"
)

// DefaultVariable is the data variable shown at startup.
const DefaultVariable = "SIS"

// Deps are the collaborators of a Viewer. Notifier and Metrics may be nil.
type Deps struct {
	Fetcher  MetadataFetcher
	Map      MapHandle
	Notifier Notifier
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

// ViewerConfig tunes a Viewer. Zero values pick the defaults.
type ViewerConfig struct {
	Layout    TileLayout
	Selection Selection
	Interval  time.Duration
	Clock     Clock
	Sequencer *Sequencer
	// CatalogErr is the error the catalog failed to load with, if any.
	// Playback refuses to start while it is set.
	CatalogErr error
}

// Viewer wires catalog, builder, synchronizer, playback and compositor into
// the operations a user performs.
type Viewer struct {
	catalog    *Catalog
	catalogErr error
	builder    *Builder
	sync       *Synchronizer
	playback   *Scheduler
	compositor *Compositor
	notifier   Notifier
	log        *slog.Logger
	metrics    *metrics.Metrics

	mu        sync.RWMutex
	selection Selection
}

// NewViewer builds a viewer over catalog. A nil catalog is treated as empty.
func NewViewer(catalog *Catalog, deps Deps, cfg ViewerConfig) (*Viewer, error) {
	if catalog == nil {
		catalog = &Catalog{scaling: map[Timestamp]ScalingRange{}}
	}
	if deps.Fetcher == nil || deps.Map == nil {
		return nil, fmt.Errorf("timelapse: viewer needs a metadata fetcher and a map handle")
	}
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}

	sel := cfg.Selection
	if sel.Variable == "" {
		sel.Variable = DefaultVariable
	}
	if sel.Colormap == "" {
		sel.Colormap = DefaultColormap
	}
	if err := ValidateSelection(sel); err != nil {
		return nil, err
	}

	var builder *Builder
	if cfg.Sequencer != nil {
		builder = NewBuilderWithSequencer(catalog, cfg.Layout, cfg.Sequencer)
	} else {
		builder = NewBuilder(catalog, cfg.Layout)
	}

	v := &Viewer{
		catalog:    catalog,
		catalogErr: cfg.CatalogErr,
		builder:    builder,
		notifier:   deps.Notifier,
		log:        deps.Log,
		metrics:    deps.Metrics,
		selection:  sel,
	}
	v.sync = NewSynchronizer(deps.Fetcher, deps.Map, deps.Notifier, logger.Component(deps.Log, "synchronizer"), deps.Metrics)
	v.playback = NewScheduler(catalog, v.Show, cfg.Interval, cfg.Clock, logger.Component(deps.Log, "playback"), deps.Metrics)
	v.compositor = NewCompositor(v.sync, logger.Component(deps.Log, "compositor"))
	deps.Metrics.SetCatalogSize(catalog.Len())

	return v, nil
}

// Start tells the user what was loaded and shows the first timestamp.
func (v *Viewer) Start(ctx context.Context) error {
	switch {
	case v.catalogErr != nil:
		v.notify(ctx, LevelError, "Error: "+v.catalogErr.Error())
		return v.catalogErr
	case v.catalog.Len() == 0:
		v.notify(ctx, LevelError, "No data available")
		return ErrEmptyCatalog
	}
	v.notify(ctx, LevelSuccess, fmt.Sprintf("Loaded %d timestamps", v.catalog.Len()))
	return v.playback.Seek(0)
}

// Show builds a request for index with the current selection and submits it.
func (v *Viewer) Show(index int) error {
	sel := v.Selection()
	req, err := v.builder.Build(index, sel.Variable, sel.Colormap)
	if err != nil {
		return err
	}
	v.sync.Request(req)
	return nil
}

// Seek moves to index, as dragging the time slider does.
func (v *Viewer) Seek(index int) error {
	return v.playback.Seek(index)
}

// Play starts playback.
func (v *Viewer) Play() error {
	if v.catalogErr != nil {
		return v.catalogErr
	}
	return v.playback.Start()
}

// Pause stops playback.
func (v *Viewer) Pause() {
	v.playback.Pause()
}

// Reset stops playback and rewinds to the first timestamp.
func (v *Viewer) Reset() error {
	return v.playback.Reset()
}

// SetSelection changes variable and/or colormap (empty fields keep their
// value) and re-requests the current timestamp. The re-request always
// fetches again, even when nothing but the colormap changed.
func (v *Viewer) SetSelection(sel Selection) (Selection, error) {
	v.mu.Lock()
	next := v.selection
	if sel.Variable != "" {
		next.Variable = sel.Variable
	}
	if sel.Colormap != "" {
		next.Colormap = sel.Colormap
	}
	if err := ValidateSelection(next); err != nil {
		v.mu.Unlock()
		return Selection{}, err
	}
	v.selection = next
	v.mu.Unlock()

	if v.catalog.Len() == 0 {
		return next, nil
	}
	return next, v.playback.Refresh()
}

// SetColormap is SetSelection for the colormap only.
func (v *Viewer) SetColormap(colormap string) error {
	if colormap == "" {
		return fmt.Errorf("%w: empty colormap", ErrInvalidSelection)
	}
	_, err := v.SetSelection(Selection{Colormap: colormap})
	return err
}

// SetVariable is SetSelection for the variable only.
func (v *Viewer) SetVariable(variable string) error {
	if variable == "" {
		return fmt.Errorf("%w: empty variable", ErrInvalidSelection)
	}
	_, err := v.SetSelection(Selection{Variable: variable})
	return err
}

// Selection returns the current selection.
func (v *Viewer) Selection() Selection {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.selection
}

// Compositor returns the presentation controls.
func (v *Viewer) Compositor() *Compositor {
	return v.compositor
}

// Catalog returns the loaded catalog.
func (v *Viewer) Catalog() *Catalog {
	return v.catalog
}

// Observe registers fn for every layer request outcome.
func (v *Viewer) Observe(fn func(Outcome)) {
	v.sync.Observe(fn)
}

// Status is a snapshot of the whole viewer.
type Status struct {
	Timestamps int               `json:"timestamps"`
	CatalogErr string            `json:"catalog_error,omitempty"`
	Selection  Selection         `json:"selection"`
	Playback   PlaybackState     `json:"playback"`
	Slot       SlotState         `json:"slot"`
	Latest     uint64            `json:"latest_sequence"`
	Active     *ActiveLayerState `json:"active,omitempty"`
	View       ViewState         `json:"view"`
}

// Status returns a snapshot of the viewer.
func (v *Viewer) Status() Status {
	st := Status{
		Timestamps: v.catalog.Len(),
		Selection:  v.Selection(),
		Playback:   v.playback.State(),
		Slot:       v.sync.State(),
		Latest:     v.sync.Latest(),
		View:       v.compositor.View(),
	}
	if v.catalogErr != nil {
		st.CatalogErr = v.catalogErr.Error()
	}
	if active, ok := v.sync.Active(); ok {
		st.Active = &active
	}
	return st
}

// Wait blocks until in-flight layer fetches have completed.
func (v *Viewer) Wait() {
	v.sync.Wait()
}

// Close stops playback and abandons in-flight fetches.
func (v *Viewer) Close() {
	v.playback.Pause()
	v.sync.Close()
}

func (v *Viewer) notify(ctx context.Context, level Level, msg string) {
	if v.notifier == nil {
		return
	}
	if err := v.notifier.Notify(ctx, Notification{Level: level, Message: msg, Time: time.Now().UTC()}); err != nil {
		v.log.Error("notify failed", slog.String("error", err.Error()))
		return
	}
	v.metrics.IncNotifications()
}
