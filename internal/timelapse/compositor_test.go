package timelapse

import (
	"context"
	"testing"
)

func TestCompositor_opacity_without_layer_is_remembered(t *testing.T) {
	f := newSyncFixture(t)
	c := NewCompositor(f.sync, nil)

	if err := c.SetOpacity(context.Background(), 70); err != nil {
		t.Fatalf("SetOpacity: %v", err)
	}
	if f.maps.commitCount() != 0 {
		t.Error("opacity without a layer must not touch the map")
	}
	if c.View().Opacity != 0.7 {
		t.Errorf("view opacity = %v", c.View().Opacity)
	}

	f.show(t, 0)
	if got := f.maps.lastCommit()[1].Layer.Paint[PropRasterOpacity]; got != 0.7 {
		t.Errorf("first layer opacity = %v, want 0.7", got)
	}
}

func TestCompositor_opacity_updates_active_layer(t *testing.T) {
	f := newSyncFixture(t)
	f.show(t, 0)
	c := NewCompositor(f.sync, nil)

	if err := c.SetOpacity(context.Background(), 150); err != nil {
		t.Fatalf("SetOpacity: %v", err)
	}
	op := f.maps.lastCommit()[0]
	active, _ := f.sync.Active()
	if op.Kind != OpSetPaint || op.ID != active.LayerID || op.Property != PropRasterOpacity || op.Value != 1.0 {
		t.Errorf("unexpected op %+v", op)
	}

	c.SetOpacity(context.Background(), -5)
	if active, _ := f.sync.Active(); active.Opacity != 0 {
		t.Errorf("opacity not clamped to 0: %v", active.Opacity)
	}
}

func TestCompositor_toggle_visibility(t *testing.T) {
	f := newSyncFixture(t)
	c := NewCompositor(f.sync, nil)
	ctx := context.Background()

	visible, err := c.ToggleVisibility(ctx)
	if err != nil || !visible || f.maps.commitCount() != 0 {
		t.Fatalf("toggle without layer: visible=%v err=%v commits=%d", visible, err, f.maps.commitCount())
	}

	f.show(t, 0)
	visible, _ = c.ToggleVisibility(ctx)
	if visible {
		t.Error("expected hidden after first toggle")
	}
	if op := f.maps.lastCommit()[0]; op.Kind != OpSetLayout || op.Value != "none" {
		t.Errorf("unexpected op %+v", op)
	}
	visible, _ = c.ToggleVisibility(ctx)
	if !visible || f.maps.lastCommit()[0].Value != "visible" {
		t.Error("expected visible after second toggle")
	}
}

func TestCompositor_basemap(t *testing.T) {
	f := newSyncFixture(t)
	c := NewCompositor(f.sync, nil)
	ctx := context.Background()

	kind, err := c.SetBasemap(ctx, "dark")
	if err != nil || kind != "dark" {
		t.Fatalf("SetBasemap(dark) = %q, %v", kind, err)
	}
	op := f.maps.lastCommit()[0]
	if op.Kind != OpSetSourceTiles || op.ID != BasemapSourceID || op.Tiles[0] != basemapTiles["dark"] {
		t.Errorf("unexpected op %+v", op)
	}

	kind, _ = c.SetBasemap(ctx, "watercolor")
	if kind != DefaultBasemap || c.View().Basemap != DefaultBasemap {
		t.Errorf("unknown basemap should fall back to %s, got %s", DefaultBasemap, kind)
	}

	if err := c.SetBasemapOpacity(ctx, 25); err != nil {
		t.Fatalf("SetBasemapOpacity: %v", err)
	}
	if op := f.maps.lastCommit()[0]; op.ID != BasemapLayerID || op.Value != 0.25 {
		t.Errorf("unexpected op %+v", op)
	}
	if c.View().BasemapOpacity != 0.25 {
		t.Errorf("view = %+v", c.View())
	}
}

func TestCompositor_zoom_to_layer(t *testing.T) {
	f := newSyncFixture(t)
	c := NewCompositor(f.sync, nil)
	ctx := context.Background()

	if ok, err := c.ZoomToLayer(ctx); ok || err != nil {
		t.Fatalf("zoom without layer: ok=%v err=%v", ok, err)
	}

	f.show(t, 1)
	if ok, err := c.ZoomToLayer(ctx); !ok || err != nil {
		t.Fatalf("zoom: ok=%v err=%v", ok, err)
	}
	op := f.maps.lastCommit()[0]
	if op.Kind != OpFitBounds || *op.Bounds != testBounds || op.Padding != zoomPadding {
		t.Errorf("unexpected op %+v", op)
	}
}

func TestCompositor_legend(t *testing.T) {
	f := newSyncFixture(t)
	c := NewCompositor(f.sync, nil)
	ctx := context.Background()

	c.SetColormapLegend(ctx, "viridis", ScalingRange{Min: 1, Max: 2})
	if f.maps.commitCount() != 0 {
		t.Error("legend without layer must not touch the map")
	}

	f.show(t, 0)
	c.SetColormapLegend(ctx, "viridis", ScalingRange{Min: 1, Max: 2})
	active, _ := f.sync.Active()
	if active.Legend.Colormap != "viridis" || active.Legend.Gradient != colormapGradients["viridis"] {
		t.Errorf("legend = %+v", active.Legend)
	}
	if active.Colormap != "magma" {
		t.Error("legend change must not recolor the tiles")
	}
}
