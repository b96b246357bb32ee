package mapbridge

import (
	"time"

	"raster-timelapse/internal/timelapse"
)

// Frame types sent to the browser.
const (
	FrameHello        = "hello"
	FrameCommit       = "commit"
	FrameNotification = "notification"
)

// Frame is one websocket message. A commit frame carries a batch of map ops
// that the browser applies within a single render frame. Replay marks the
// commit a late joiner receives to catch up with the map.
type Frame struct {
	Type         string                  `json:"type"`
	ID           string                  `json:"id"`
	Seq          uint64                  `json:"seq"`
	SentAt       time.Time               `json:"sent_at"`
	ClientID     string                  `json:"client_id,omitempty"`
	Replay       bool                    `json:"replay,omitempty"`
	Ops          []timelapse.MapOp       `json:"ops,omitempty"`
	Notification *timelapse.Notification `json:"notification,omitempty"`
}
