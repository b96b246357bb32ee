package mapbridge

import (
	"maps"
	"slices"

	"raster-timelapse/internal/timelapse"
)

type propKey struct {
	kind     timelapse.OpKind
	id       string
	property string
}

// mapState is the map as the hub has relayed it so far. A client that joins
// late is brought up to date with replay before it sees any new frame.
type mapState struct {
	sources     map[string]timelapse.RasterSource
	sourceOrder []string
	layers      map[string]timelapse.RasterLayer
	layerOrder  []string
	// props holds property ops on ids the hub did not create, such as the
	// base map, keyed so only the latest value per property is kept.
	props     map[propKey]timelapse.MapOp
	propOrder []propKey
	legend    *timelapse.Legend
}

func newMapState() *mapState {
	return &mapState{
		sources: make(map[string]timelapse.RasterSource),
		layers:  make(map[string]timelapse.RasterLayer),
		props:   make(map[propKey]timelapse.MapOp),
	}
}

func (m *mapState) apply(ops []timelapse.MapOp) {
	for _, op := range ops {
		switch op.Kind {
		case timelapse.OpAddSource:
			if op.Source == nil {
				continue
			}
			if _, ok := m.sources[op.ID]; !ok {
				m.sourceOrder = append(m.sourceOrder, op.ID)
			}
			src := *op.Source
			src.Tiles = slices.Clone(src.Tiles)
			m.sources[op.ID] = src
		case timelapse.OpRemoveSource:
			delete(m.sources, op.ID)
			m.sourceOrder = remove(m.sourceOrder, op.ID)
		case timelapse.OpAddLayer:
			if op.Layer == nil {
				continue
			}
			if _, ok := m.layers[op.ID]; !ok {
				m.layerOrder = append(m.layerOrder, op.ID)
			}
			layer := *op.Layer
			layer.Paint = maps.Clone(layer.Paint)
			layer.Layout = maps.Clone(layer.Layout)
			m.layers[op.ID] = layer
		case timelapse.OpRemoveLayer:
			delete(m.layers, op.ID)
			m.layerOrder = remove(m.layerOrder, op.ID)
		case timelapse.OpSetPaint, timelapse.OpSetLayout:
			if layer, ok := m.layers[op.ID]; ok {
				if op.Kind == timelapse.OpSetPaint {
					layer.Paint = setProp(layer.Paint, op.Property, op.Value)
				} else {
					layer.Layout = setProp(layer.Layout, op.Property, op.Value)
				}
				m.layers[op.ID] = layer
				continue
			}
			m.keep(op)
		case timelapse.OpSetSourceTiles:
			if src, ok := m.sources[op.ID]; ok {
				src.Tiles = slices.Clone(op.Tiles)
				m.sources[op.ID] = src
				continue
			}
			m.keep(op)
		case timelapse.OpSetLegend:
			if op.Legend != nil {
				l := *op.Legend
				m.legend = &l
			}
		}
		// fitBounds moves the camera of whoever was watching; it is not state.
	}
}

func (m *mapState) keep(op timelapse.MapOp) {
	key := propKey{kind: op.Kind, id: op.ID, property: op.Property}
	if _, ok := m.props[key]; !ok {
		m.propOrder = append(m.propOrder, key)
	}
	m.props[key] = op
}

// replay returns the ops that draw the current state on a fresh map, nil if
// nothing has been committed yet.
func (m *mapState) replay() []timelapse.MapOp {
	var ops []timelapse.MapOp
	for _, key := range m.propOrder {
		ops = append(ops, m.props[key])
	}
	for _, id := range m.sourceOrder {
		src := m.sources[id]
		ops = append(ops, timelapse.MapOp{Kind: timelapse.OpAddSource, ID: id, Source: &src})
	}
	for _, id := range m.layerOrder {
		layer := m.layers[id]
		ops = append(ops, timelapse.MapOp{Kind: timelapse.OpAddLayer, ID: id, Layer: &layer})
	}
	if m.legend != nil {
		l := *m.legend
		ops = append(ops, timelapse.MapOp{Kind: timelapse.OpSetLegend, Legend: &l})
	}
	return ops
}

func setProp(props map[string]any, key string, value any) map[string]any {
	if props == nil {
		props = make(map[string]any)
	}
	props[key] = value
	return props
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
