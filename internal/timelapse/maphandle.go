package timelapse

import "context"

// OpKind names one mutation of the map.
type OpKind string

const (
	OpAddSource      OpKind = "addSource"
	OpRemoveSource   OpKind = "removeSource"
	OpAddLayer       OpKind = "addLayer"
	OpRemoveLayer    OpKind = "removeLayer"
	OpSetPaint       OpKind = "setPaintProperty"
	OpSetLayout      OpKind = "setLayoutProperty"
	OpSetSourceTiles OpKind = "setSourceTiles"
	OpFitBounds      OpKind = "fitBounds"
	OpSetLegend      OpKind = "setLegend"
)

// Paint and layout property names used on raster layers.
const (
	PropRasterOpacity    = "raster-opacity"
	PropRasterResampling = "raster-resampling"
	PropVisibility       = "visibility"
)

// BasemapSourceID and BasemapLayerID name the base map on the map.
const (
	BasemapSourceID = "osm"
	BasemapLayerID  = "osm"
)

// RasterSource is a tiled raster source.
type RasterSource struct {
	Type     string   `json:"type"`
	Tiles    []string `json:"tiles"`
	TileSize int      `json:"tileSize"`
	Bounds   *Bounds  `json:"bounds,omitempty"`
}

// RasterLayer renders a RasterSource.
type RasterLayer struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Layout map[string]any `json:"layout,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
}

// Legend is the colormap legend shown next to the overlay.
type Legend struct {
	Colormap string  `json:"colormap"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Gradient string  `json:"gradient"`
}

// MapOp is one map mutation. Which fields are set depends on Kind.
type MapOp struct {
	Kind     OpKind        `json:"op"`
	ID       string        `json:"id,omitempty"`
	Source   *RasterSource `json:"source,omitempty"`
	Layer    *RasterLayer  `json:"layer,omitempty"`
	Property string        `json:"property,omitempty"`
	Value    any           `json:"value,omitempty"`
	Tiles    []string      `json:"tiles,omitempty"`
	Bounds   *Bounds       `json:"bounds,omitempty"`
	Padding  int           `json:"padding,omitempty"`
	Legend   *Legend       `json:"legend,omitempty"`
}

// MapHandle is the capability the engine needs from the mapping library.
// Commit applies ops in order as one visible transition: the map must not
// render between two ops of the same batch.
type MapHandle interface {
	Commit(ctx context.Context, ops []MapOp) error
}

func addSourceOp(id string, src RasterSource) MapOp {
	return MapOp{Kind: OpAddSource, ID: id, Source: &src}
}

func removeSourceOp(id string) MapOp {
	return MapOp{Kind: OpRemoveSource, ID: id}
}

func addLayerOp(layer RasterLayer) MapOp {
	return MapOp{Kind: OpAddLayer, ID: layer.ID, Layer: &layer}
}

func removeLayerOp(id string) MapOp {
	return MapOp{Kind: OpRemoveLayer, ID: id}
}

func setPaintOp(layerID, property string, value any) MapOp {
	return MapOp{Kind: OpSetPaint, ID: layerID, Property: property, Value: value}
}

func setLayoutOp(layerID, property string, value any) MapOp {
	return MapOp{Kind: OpSetLayout, ID: layerID, Property: property, Value: value}
}

func setSourceTilesOp(sourceID string, tiles ...string) MapOp {
	return MapOp{Kind: OpSetSourceTiles, ID: sourceID, Tiles: tiles}
}

func fitBoundsOp(b Bounds, padding int) MapOp {
	return MapOp{Kind: OpFitBounds, Bounds: &b, Padding: padding}
}

func setLegendOp(l Legend) MapOp {
	return MapOp{Kind: OpSetLegend, Legend: &l}
}
