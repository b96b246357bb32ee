package timelapse

import (
	"context"
	"log/slog"
)

// DefaultBasemap is the base map shown at startup and for unknown kinds.
const DefaultBasemap = "osm"

var basemapTiles = map[string]string{
	"osm":       "https://a.tile.openstreetmap.org/{z}/{x}/{y}.png",
	"satellite": "http://mt1.google.com/vt/lyrs=s&x={x}&y={y}&z={z}",
	"terrain":   "http://mt1.google.com/vt/lyrs=p&x={x}&y={y}&z={z}",
	"dark":      "https://tiles.stadiamaps.com/tiles/alidade_smooth_dark/{z}/{x}/{y}{r}.png",
}

// zoomPadding is the pixel padding used when fitting the view to the overlay.
const zoomPadding = 20

// ViewState is the presentation seen by the user.
type ViewState struct {
	Opacity        float64 `json:"opacity"`
	Visible        bool    `json:"visible"`
	Basemap        string  `json:"basemap"`
	BasemapOpacity float64 `json:"basemap_opacity"`
}

// Compositor restyles the active overlay and the base map without fetching
// anything. It never changes which timestamp is shown.
type Compositor struct {
	sync *Synchronizer
	log  *slog.Logger
}

// NewCompositor returns a compositor over the synchronizer's overlay slot.
func NewCompositor(sync *Synchronizer, log *slog.Logger) *Compositor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Compositor{sync: sync, log: log}
}

// SetOpacity sets the overlay opacity in percent, clamped to [0, 100].
// Without an active layer nothing is sent to the map; the value is kept for
// the next layer.
func (c *Compositor) SetOpacity(ctx context.Context, percent int) error {
	o := percentToUnit(percent)
	_, err := c.sync.restyle(ctx, func(p *presentation, active *ActiveLayerState) []MapOp {
		p.opacity = o
		if active == nil {
			return nil
		}
		active.Opacity = o
		return []MapOp{setPaintOp(active.LayerID, PropRasterOpacity, o)}
	})
	return err
}

// SetBasemap switches the base map tiles. Unknown kinds fall back to osm.
// It returns the kind actually applied.
func (c *Compositor) SetBasemap(ctx context.Context, kind string) (string, error) {
	tiles, ok := basemapTiles[kind]
	if !ok {
		c.log.Debug("unknown basemap, using default", slog.String("kind", kind))
		kind = DefaultBasemap
		tiles = basemapTiles[DefaultBasemap]
	}
	_, err := c.sync.restyle(ctx, func(p *presentation, _ *ActiveLayerState) []MapOp {
		p.basemap = kind
		return []MapOp{setSourceTilesOp(BasemapSourceID, tiles)}
	})
	return kind, err
}

// SetBasemapOpacity sets the base map opacity in percent.
func (c *Compositor) SetBasemapOpacity(ctx context.Context, percent int) error {
	o := percentToUnit(percent)
	_, err := c.sync.restyle(ctx, func(p *presentation, _ *ActiveLayerState) []MapOp {
		p.basemapOpacity = o
		return []MapOp{setPaintOp(BasemapLayerID, PropRasterOpacity, o)}
	})
	return err
}

// SetColormapLegend redraws the legend of the active layer. The tiles keep
// their colormap; use the viewer to re-request with another colormap.
func (c *Compositor) SetColormapLegend(ctx context.Context, colormap string, scaling ScalingRange) error {
	_, err := c.sync.restyle(ctx, func(_ *presentation, active *ActiveLayerState) []MapOp {
		if active == nil {
			return nil
		}
		active.Legend = Legend{
			Colormap: colormap,
			Min:      scaling.Min,
			Max:      scaling.Max,
			Gradient: gradientFor(colormap),
		}
		return []MapOp{setLegendOp(active.Legend)}
	})
	return err
}

// ToggleVisibility shows or hides the active layer and reports the new
// visibility. Without an active layer it does nothing.
func (c *Compositor) ToggleVisibility(ctx context.Context) (bool, error) {
	var visible bool
	_, err := c.sync.restyle(ctx, func(p *presentation, active *ActiveLayerState) []MapOp {
		visible = p.visible
		if active == nil {
			return nil
		}
		visible = !active.Visible
		p.visible = visible
		active.Visible = visible
		value := "none"
		if visible {
			value = "visible"
		}
		return []MapOp{setLayoutOp(active.LayerID, PropVisibility, value)}
	})
	return visible, err
}

// ZoomToLayer fits the view to the active layer's bounds. It reports whether
// there was a layer to zoom to.
func (c *Compositor) ZoomToLayer(ctx context.Context) (bool, error) {
	return c.sync.restyle(ctx, func(_ *presentation, active *ActiveLayerState) []MapOp {
		if active == nil {
			return nil
		}
		return []MapOp{fitBoundsOp(active.Bounds, zoomPadding)}
	})
}

// View returns the current presentation settings.
func (c *Compositor) View() ViewState {
	c.sync.mu.Lock()
	defer c.sync.mu.Unlock()
	p := c.sync.pres
	return ViewState{
		Opacity:        p.opacity,
		Visible:        p.visible,
		Basemap:        p.basemap,
		BasemapOpacity: p.basemapOpacity,
	}
}

func percentToUnit(percent int) float64 {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return float64(percent) / 100
}
