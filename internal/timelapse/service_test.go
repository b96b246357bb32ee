package timelapse

import (
	"errors"
	"strings"
	"testing"
	"time"

	"raster-timelapse/internal/platform/metrics"
)

type viewerFixture struct {
	viewer   *Viewer
	fetcher  *staticFetcher
	maps     *recordingMap
	notifier *recordingNotifier
	clock    *fakeClock
}

func newViewerFixture(t *testing.T, catalog *Catalog, catalogErr error) *viewerFixture {
	t.Helper()
	f := &viewerFixture{
		fetcher:  &staticFetcher{},
		maps:     newRecordingMap(t),
		notifier: &recordingNotifier{},
		clock:    &fakeClock{},
	}
	v, err := NewViewer(catalog, Deps{
		Fetcher:  f.fetcher,
		Map:      f.maps,
		Notifier: f.notifier,
	}, ViewerConfig{
		Clock:      f.clock,
		Sequencer:  &Sequencer{},
		CatalogErr: catalogErr,
	})
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	t.Cleanup(v.Close)
	f.viewer = v
	return f
}

func TestNewViewer_requires_collaborators(t *testing.T) {
	if _, err := NewViewer(nil, Deps{Map: newRecordingMap(t)}, ViewerConfig{}); err == nil {
		t.Error("expected error without a fetcher")
	}
	if _, err := NewViewer(nil, Deps{Fetcher: &staticFetcher{}, Map: newRecordingMap(t)}, ViewerConfig{
		Selection: Selection{Colormap: "rainbow"},
	}); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestViewer_Start_shows_first_timestamp(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)
	if err := f.viewer.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.viewer.Wait()

	sent := f.notifier.all()
	if len(sent) != 1 || sent[0].Level != LevelSuccess || sent[0].Message != "Loaded 3 timestamps" {
		t.Errorf("notifications = %+v", sent)
	}
	st := f.viewer.Status()
	if st.Active == nil || st.Active.Index != 0 || st.Slot != SlotApplied {
		t.Fatalf("status = %+v", st)
	}
	if st.Selection != (Selection{Variable: DefaultVariable, Colormap: DefaultColormap}) {
		t.Errorf("selection = %+v", st.Selection)
	}
	if f.fetcher.paths[0] != "/opt/cogs/SIS_20200101T000000.tif" {
		t.Errorf("fetched %q", f.fetcher.paths[0])
	}
}

func TestViewer_Start_empty_catalog(t *testing.T) {
	empty, _ := NewCatalog(nil)
	f := newViewerFixture(t, empty, nil)

	if err := f.viewer.Start(t.Context()); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
	errs := f.notifier.failures()
	if len(errs) != 1 || errs[0].Message != "No data available" {
		t.Errorf("notifications = %+v", errs)
	}
	if err := f.viewer.Play(); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("Play: expected ErrEmptyCatalog, got %v", err)
	}
	if f.maps.commitCount() != 0 || f.fetcher.count() != 0 {
		t.Error("empty catalog touched the map")
	}
}

func TestViewer_catalog_load_failure(t *testing.T) {
	loadErr := errors.Join(ErrCatalogLoad, errBoom)
	f := newViewerFixture(t, nil, loadErr)

	if err := f.viewer.Start(t.Context()); !errors.Is(err, ErrCatalogLoad) {
		t.Errorf("expected ErrCatalogLoad, got %v", err)
	}
	errs := f.notifier.failures()
	if len(errs) != 1 || !strings.HasPrefix(errs[0].Message, "Error: ") {
		t.Errorf("notifications = %+v", errs)
	}
	if err := f.viewer.Play(); !errors.Is(err, ErrCatalogLoad) {
		t.Errorf("Play: expected ErrCatalogLoad, got %v", err)
	}
	if st := f.viewer.Status(); st.CatalogErr == "" || st.Playback.Running {
		t.Errorf("status = %+v", st)
	}
}

func TestViewer_playback_advances_overlay(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)
	f.viewer.Start(t.Context())
	f.viewer.Wait()

	if err := f.viewer.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	f.clock.fire()
	f.viewer.Wait()
	f.viewer.Pause()

	st := f.viewer.Status()
	if st.Playback.Running || st.Playback.CurrentIndex != 1 {
		t.Errorf("playback = %+v", st.Playback)
	}
	if st.Active == nil || st.Active.Timestamp != "20200101T001500" {
		t.Errorf("active = %+v", st.Active)
	}
	if got := f.maps.dataLayers(); len(got) != 1 {
		t.Errorf("map layers = %v", got)
	}
}

func TestViewer_SetSelection_refetches_current(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)
	f.viewer.Start(t.Context())
	f.viewer.Wait()
	f.viewer.Seek(2)
	f.viewer.Wait()

	sel, err := f.viewer.SetSelection(Selection{Colormap: "viridis"})
	if err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	f.viewer.Wait()

	if sel != (Selection{Variable: "SIS", Colormap: "viridis"}) {
		t.Errorf("selection = %+v", sel)
	}
	active, _ := f.viewer.sync.Active()
	if active.Index != 2 || active.Colormap != "viridis" {
		t.Errorf("active = %+v", active)
	}
	if f.fetcher.count() != 3 {
		t.Errorf("expected a fresh fetch per request, got %d", f.fetcher.count())
	}

	if err := f.viewer.SetVariable("PAR"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	f.viewer.Wait()
	active, _ = f.viewer.sync.Active()
	if !strings.HasSuffix(active.Descriptor.RasterPath, "PAR_20200101T003000.tif") {
		t.Errorf("raster path = %s", active.Descriptor.RasterPath)
	}
}

func TestViewer_SetSelection_invalid(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)

	if _, err := f.viewer.SetSelection(Selection{Colormap: "rainbow"}); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("expected ErrInvalidSelection, got %v", err)
	}
	if err := f.viewer.SetColormap(""); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("expected ErrInvalidSelection, got %v", err)
	}
	if f.viewer.Selection().Colormap != DefaultColormap {
		t.Error("invalid selection was stored")
	}
}

func TestViewer_failed_timestamp_keeps_overlay(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)
	f.fetcher.fail = map[string]error{
		"/opt/cogs/SIS_20200101T001500.tif": &MetadataError{Kind: ErrMetadataNotFound, Path: "x", Status: 404},
	}
	f.viewer.Start(t.Context())
	f.viewer.Wait()
	f.viewer.Seek(1)
	f.viewer.Wait()

	st := f.viewer.Status()
	if st.Slot != SlotFailed || st.Active == nil || st.Active.Index != 0 {
		t.Errorf("status = %+v", st)
	}
	if len(f.notifier.failures()) != 1 {
		t.Errorf("notifications = %+v", f.notifier.all())
	}
}

func TestViewer_Reset(t *testing.T) {
	f := newViewerFixture(t, testCatalog(t), nil)
	f.viewer.Seek(2)
	f.viewer.Play()
	if err := f.viewer.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	f.viewer.Wait()

	st := f.viewer.Status()
	if st.Playback.Running || st.Playback.CurrentIndex != 0 || st.Active.Index != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestViewer_playback_not_held_by_slow_notifier(t *testing.T) {
	notifier := newBlockingNotifier()
	clock := &fakeClock{}
	fetcher := &staticFetcher{fail: map[string]error{
		"/opt/cogs/SIS_20200101T001500.tif": errBoom,
	}}
	v, err := NewViewer(testCatalog(t), Deps{Fetcher: fetcher, Map: newRecordingMap(t), Notifier: notifier},
		ViewerConfig{Clock: clock, Sequencer: &Sequencer{}})
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}
	t.Cleanup(v.Close)
	t.Cleanup(func() { close(notifier.release) })

	v.Start(t.Context())
	v.Wait()
	v.Play()
	clock.fire()
	notifier.waitEntered(t)

	returnsWithin(t, 500*time.Millisecond, "tick", func() { clock.fire() })
	returnsWithin(t, 500*time.Millisecond, "Pause", v.Pause)
	if st := v.Status().Playback; st.Running || st.CurrentIndex != 2 {
		t.Errorf("playback = %+v", st)
	}
}

func TestViewer_counts_only_delivered_notifications(t *testing.T) {
	for name, tc := range map[string]struct {
		notifier Notifier
		want     string
	}{
		"delivered": {&recordingNotifier{}, "timelapse_notifications_total 1"},
		"failed":    {failingNotifier{}, "timelapse_notifications_total 0"},
	} {
		t.Run(name, func(t *testing.T) {
			m := metrics.New()
			v, err := NewViewer(testCatalog(t), Deps{Fetcher: &staticFetcher{}, Map: newRecordingMap(t), Notifier: tc.notifier, Metrics: m},
				ViewerConfig{Clock: &fakeClock{}, Sequencer: &Sequencer{}})
			if err != nil {
				t.Fatalf("NewViewer: %v", err)
			}
			t.Cleanup(v.Close)

			v.Start(t.Context())
			v.Wait()
			if out := scrapeMetrics(t, m); !strings.Contains(out, tc.want) {
				t.Errorf("metrics missing %q", tc.want)
			}
		})
	}
}
