package timelapse

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timestamp identifies one raster snapshot. It is opaque: ordering comes from
// its position in the Catalog, never from comparing the strings.
type Timestamp string

// ScalingRange is the value range used to rescale a raster for display.
type ScalingRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is finite and Min <= Max.
func (r ScalingRange) Valid() bool {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return false
	}
	return r.Min <= r.Max
}

// Rescale formats the range as the tile service expects it: "min,max",
// in plain decimal notation.
func (r ScalingRange) Rescale() string {
	return strconv.FormatFloat(r.Min, 'f', -1, 64) + "," + strconv.FormatFloat(r.Max, 'f', -1, 64)
}

// CatalogEntry is one row of the bulk timestamp listing.
// This also matches the JSON payload of the listing endpoint.
type CatalogEntry struct {
	Datetime string  `json:"datetime"`
	VMin     float64 `json:"vmin"`
	VMax     float64 `json:"vmax"`
}

// Bounds is a raster extent as [minX, minY, maxX, maxY].
type Bounds [4]float64

// Valid reports whether the bounds are finite and not inverted.
func (b Bounds) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[0] <= b[2] && b[1] <= b[3]
}

// Selection is the user's current data variable and colormap.
type Selection struct {
	Variable string `json:"variable"`
	Colormap string `json:"colormap"`
}

// TileDescriptor fully identifies what an overlay displays. Two requests with
// equal descriptors render the same tiles.
type TileDescriptor struct {
	RasterPath string `json:"raster_path"`
	TileURL    string `json:"tile_url"`
}

// LayerRequest asks the synchronizer to show one timestamp. Sequence orders
// requests by recency and is assigned once, by the Builder.
type LayerRequest struct {
	Sequence  uint64
	Index     int
	Variable  string
	Colormap  string
	Timestamp Timestamp
	Scaling   ScalingRange

	descriptor TileDescriptor
}

// Descriptor returns the tile descriptor derived when the request was built.
func (r LayerRequest) Descriptor() TileDescriptor {
	return r.descriptor
}

// ActiveLayerState is the overlay currently on the map.
type ActiveLayerState struct {
	Sequence   uint64         `json:"sequence"`
	Index      int            `json:"index"`
	Timestamp  Timestamp      `json:"timestamp"`
	Scaling    ScalingRange   `json:"scaling"`
	Bounds     Bounds         `json:"bounds"`
	Descriptor TileDescriptor `json:"descriptor"`
	Colormap   string         `json:"colormap"`
	Legend     Legend         `json:"legend"`
	Opacity    float64        `json:"opacity"`
	Visible    bool           `json:"visible"`
	SourceID   string         `json:"source_id"`
	LayerID    string         `json:"layer_id"`
	AppliedAt  time.Time      `json:"applied_at"`
}

// PlaybackState is a snapshot of the playback scheduler.
type PlaybackState struct {
	Running      bool `json:"running"`
	CurrentIndex int  `json:"current_index"`
}

// SlotState is the lifecycle of the single overlay slot.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotFetching
	SlotApplied
	SlotDiscarded
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotFetching:
		return "fetching"
	case SlotApplied:
		return "applied"
	case SlotDiscarded:
		return "discarded"
	case SlotFailed:
		return "failed"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// MarshalText lets SlotState render by name in JSON.
func (s SlotState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Level classifies a user-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a message for the user-facing notification channel.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
