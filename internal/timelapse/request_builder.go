package timelapse

import (
	"fmt"
	"math"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
)

// DefaultRasterRoot is where the tile service finds the COG files.
const DefaultRasterRoot = "/opt/cogs"

// DefaultTileURL is the tile template handed to the map; {z}/{x}/{y} are
// filled in by the map library.
const DefaultTileURL = "/cog/tiles/WebMercatorQuad/{z}/{x}/{y}.png"

// Sequencer hands out strictly increasing sequence numbers starting at 1.
// At the top of the range it saturates instead of wrapping.
type Sequencer struct {
	last atomic.Uint64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	for {
		cur := s.last.Load()
		if cur == math.MaxUint64 {
			return cur
		}
		if s.last.CompareAndSwap(cur, cur+1) {
			return cur + 1
		}
	}
}

// Last returns the most recently issued number, 0 if none.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}

// processSequencer is shared by every Builder created with NewBuilder so
// sequence numbers are unique for the life of the process.
var processSequencer Sequencer

// TileLayout describes where rasters live and how tile URLs are formed.
type TileLayout struct {
	RasterRoot string
	TileURL    string
}

func (l TileLayout) withDefaults() TileLayout {
	if l.RasterRoot == "" {
		l.RasterRoot = DefaultRasterRoot
	}
	if l.TileURL == "" {
		l.TileURL = DefaultTileURL
	}
	return l
}

// RasterPath returns the path of the raster for variable at ts:
// <root>/<variable>_<ts>.tif.
func (l TileLayout) RasterPath(variable string, ts Timestamp) string {
	l = l.withDefaults()
	return path.Join(l.RasterRoot, fmt.Sprintf("%s_%s.tif", variable, ts))
}

// Descriptor builds the tile descriptor for one raster, scaling and colormap.
// The {z}/{x}/{y} placeholders of the template are left untouched.
func (l TileLayout) Descriptor(variable string, ts Timestamp, scaling ScalingRange, colormap string) TileDescriptor {
	l = l.withDefaults()
	rasterPath := l.RasterPath(variable, ts)

	var b strings.Builder
	b.WriteString(l.TileURL)
	if strings.Contains(l.TileURL, "?") {
		b.WriteString("&")
	} else {
		b.WriteString("?")
	}
	b.WriteString("url=")
	b.WriteString(url.QueryEscape(rasterPath))
	b.WriteString("&rescale=")
	b.WriteString(scaling.Rescale())
	b.WriteString("&colormap_name=")
	b.WriteString(url.QueryEscape(colormap))

	return TileDescriptor{RasterPath: rasterPath, TileURL: b.String()}
}

// Builder turns (index, variable, colormap) into a LayerRequest.
type Builder struct {
	catalog *Catalog
	layout  TileLayout
	seq     *Sequencer
}

// NewBuilder returns a Builder using the process-wide sequencer.
func NewBuilder(catalog *Catalog, layout TileLayout) *Builder {
	return NewBuilderWithSequencer(catalog, layout, &processSequencer)
}

// NewBuilderWithSequencer returns a Builder drawing numbers from seq.
func NewBuilderWithSequencer(catalog *Catalog, layout TileLayout, seq *Sequencer) *Builder {
	return &Builder{catalog: catalog, layout: layout.withDefaults(), seq: seq}
}

// Layout returns the builder's tile layout.
func (b *Builder) Layout() TileLayout {
	return b.layout
}

// Build returns a request for the timestamp at index. It fails with
// ErrEmptyCatalog, ErrIndexOutOfRange or ErrInvalidSelection; a sequence
// number is only consumed on success.
func (b *Builder) Build(index int, variable, colormap string) (LayerRequest, error) {
	if err := ValidateSelection(Selection{Variable: variable, Colormap: colormap}); err != nil {
		return LayerRequest{}, err
	}
	ts, err := b.catalog.At(index)
	if err != nil {
		return LayerRequest{}, err
	}
	scaling, ok := b.catalog.Scaling(ts)
	if !ok {
		return LayerRequest{}, fmt.Errorf("%w: no scaling for %q", ErrCatalogLoad, ts)
	}

	return LayerRequest{
		Sequence:   b.seq.Next(),
		Index:      index,
		Variable:   variable,
		Colormap:   colormap,
		Timestamp:  ts,
		Scaling:    scaling,
		descriptor: b.layout.Descriptor(variable, ts, scaling, colormap),
	}, nil
}

// ValidateSelection checks that the variable is a plain name and the colormap
// is a known palette.
func ValidateSelection(sel Selection) error {
	v := strings.TrimSpace(sel.Variable)
	if v == "" || v != sel.Variable || strings.ContainsAny(v, `/\`) {
		return fmt.Errorf("%w: variable %q", ErrInvalidSelection, sel.Variable)
	}
	if !KnownColormap(sel.Colormap) {
		return fmt.Errorf("%w: colormap %q", ErrInvalidSelection, sel.Colormap)
	}
	return nil
}
