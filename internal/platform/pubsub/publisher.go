package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"raster-timelapse/internal/timelapse"
)

// DefaultChannel is the Redis channel events are published on.
const DefaultChannel = "timelapse"

const publishTimeout = 2 * time.Second

// Event types.
const (
	EventNotification = "notification"
	EventLayer        = "layer"
)

// Event is the JSON payload published for every notification and applied layer.
type Event struct {
	Type         string                      `json:"type"`
	Time         time.Time                   `json:"time"`
	Notification *timelapse.Notification     `json:"notification,omitempty"`
	Layer        *timelapse.ActiveLayerState `json:"layer,omitempty"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

var _ timelapse.Notifier = (*Publisher)(nil)

// Publisher mirrors viewer events to a Redis channel so other processes can
// follow the timelapse.
type Publisher struct {
	rdb     publisher
	closer  func() error
	channel string
	log     *slog.Logger
}

// Connect dials Redis at addr and checks the connection.
func Connect(ctx context.Context, addr, channel string, log *slog.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	p := newPublisher(rdb, channel, log)
	p.closer = rdb.Close
	return p, nil
}

func newPublisher(rdb publisher, channel string, log *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Publisher{rdb: rdb, channel: channel, log: log}
}

// Notify implements timelapse.Notifier.
func (p *Publisher) Notify(ctx context.Context, n timelapse.Notification) error {
	return p.publish(ctx, Event{Type: EventNotification, Time: n.Time, Notification: &n})
}

// LayerApplied is a viewer observer publishing every applied overlay.
// Other outcomes are ignored.
func (p *Publisher) LayerApplied(o timelapse.Outcome) {
	if o.State != timelapse.SlotApplied || o.Active == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	layer := *o.Active
	if err := p.publish(ctx, Event{Type: EventLayer, Time: layer.AppliedAt, Layer: &layer}); err != nil {
		p.log.Warn("publish layer failed", slog.Uint64("sequence", layer.Sequence), slog.String("error", err.Error()))
	}
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
