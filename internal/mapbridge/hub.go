package mapbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"raster-timelapse/internal/platform/metrics"
	"raster-timelapse/internal/timelapse"
)

// ErrHubClosed is returned when sending after the hub stopped.
var ErrHubClosed = errors.New("map bridge closed")

const broadcastBuffer = 256

var (
	_ timelapse.MapHandle = (*Hub)(nil)
	_ timelapse.Notifier  = (*Hub)(nil)
)

// outbound is an encoded frame plus the ops it carries, so Run can keep the
// replay model without decoding.
type outbound struct {
	data []byte
	ops  []timelapse.MapOp
}

// Hub relays map commits and notifications to every connected browser.
// Frames reach each client in the order they were sent. A client that
// connects late first receives one replay commit carrying the map as it
// stands.
type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	done       chan struct{}
	state      *mapState
	closeOnce  sync.Once

	count atomic.Int64
	seq   atomic.Uint64
}

// NewHub returns a hub; call Run to start relaying. m may be nil.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, broadcastBuffer),
		done:       make(chan struct{}),
		state:      newMapState(),
	}
}

// Run relays frames until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info("map bridge started")
	defer h.closeOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.log.Info("map bridge stopped")
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.updateCount()
			h.replay(c)
			h.log.Info("map client connected", slog.String("client_id", c.id), slog.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info("map client disconnected", slog.String("client_id", c.id), slog.Int("clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			h.state.apply(msg.ops)
			for c := range h.clients {
				select {
				case c.send <- msg.data:
				default:
					// A client this far behind can no longer render a consistent map.
					h.drop(c)
					h.log.Warn("map client too slow, dropped", slog.String("client_id", c.id))
				}
			}
		}
	}
}

// replay queues the current map for a client Run just registered. Run is
// the only sender on c.send, so it lands after hello and before any frame
// broadcast later.
func (h *Hub) replay(c *client) {
	ops := h.state.replay()
	if len(ops) == 0 {
		return
	}
	b, err := json.Marshal(Frame{
		Type:     FrameCommit,
		ID:       uuid.NewString(),
		Seq:      h.seq.Load(),
		SentAt:   time.Now().UTC(),
		ClientID: c.id,
		Replay:   true,
		Ops:      ops,
	})
	if err != nil {
		h.log.Warn("encode replay frame", slog.String("error", err.Error()))
		return
	}
	select {
	case c.send <- b:
	default:
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.updateCount()
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	h.metrics.SetBridgeClients(len(h.clients))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Commit implements timelapse.MapHandle by broadcasting the ops as one frame.
func (h *Hub) Commit(ctx context.Context, ops []timelapse.MapOp) error {
	return h.send(ctx, Frame{Type: FrameCommit, Ops: ops})
}

// Notify implements timelapse.Notifier.
func (h *Hub) Notify(ctx context.Context, n timelapse.Notification) error {
	return h.send(ctx, Frame{Type: FrameNotification, Notification: &n})
}

func (h *Hub) send(ctx context.Context, f Frame) error {
	f.ID = uuid.NewString()
	f.Seq = h.seq.Add(1)
	f.SentAt = time.Now().UTC()
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}

	var ops []timelapse.MapOp
	if f.Type == FrameCommit {
		ops = f.Ops
	}
	select {
	case h.broadcast <- outbound{data: b, ops: ops}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request to a websocket and attaches the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	// Queued before registering: the hub may close c.send once it knows c.
	if hello, err := json.Marshal(Frame{
		Type:     FrameHello,
		ID:       uuid.NewString(),
		SentAt:   time.Now().UTC(),
		ClientID: c.id,
	}); err == nil {
		c.send <- hello
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
