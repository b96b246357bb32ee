package timelapse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// Catalog is the ordered, immutable list of timestamps and their scaling ranges.
// It is safe for concurrent reads.
type Catalog struct {
	timestamps []Timestamp
	scaling    map[Timestamp]ScalingRange
}

// NewCatalog builds a catalog from listing entries in the order given.
// Duplicate or empty datetimes and invalid scaling ranges are rejected with
// ErrCatalogLoad. An empty entries slice yields a valid, empty catalog.
func NewCatalog(entries []CatalogEntry) (*Catalog, error) {
	c := &Catalog{
		timestamps: make([]Timestamp, 0, len(entries)),
		scaling:    make(map[Timestamp]ScalingRange, len(entries)),
	}
	for i, e := range entries {
		ts := Timestamp(strings.TrimSpace(e.Datetime))
		if ts == "" {
			return nil, fmt.Errorf("%w: entry %d has no datetime", ErrCatalogLoad, i)
		}
		if _, dup := c.scaling[ts]; dup {
			return nil, fmt.Errorf("%w: duplicate datetime %q", ErrCatalogLoad, ts)
		}
		sr := ScalingRange{Min: e.VMin, Max: e.VMax}
		if !sr.Valid() {
			return nil, fmt.Errorf("%w: invalid scaling [%v, %v] for %q", ErrCatalogLoad, e.VMin, e.VMax, ts)
		}
		c.timestamps = append(c.timestamps, ts)
		c.scaling[ts] = sr
	}
	return c, nil
}

// LoadCatalog fetches the bulk listing from src and builds a Catalog.
func LoadCatalog(ctx context.Context, src CatalogSource) (*Catalog, error) {
	entries, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogLoad, err)
	}
	return NewCatalog(entries)
}

// LoadCatalogWithRetry is LoadCatalog retrying listing failures with
// exponential backoff, at most retries extra attempts. Invalid listings are
// not retried.
func LoadCatalogWithRetry(ctx context.Context, src CatalogSource, retries int, log *slog.Logger) (*Catalog, error) {
	if retries < 0 {
		retries = 0
	}
	var catalog *Catalog
	op := func() error {
		entries, err := src.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrCatalogLoad, err))
			}
			return fmt.Errorf("%w: %w", ErrCatalogLoad, err)
		}
		c, err := NewCatalog(entries)
		if err != nil {
			return backoff.Permanent(err)
		}
		catalog = c
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if log != nil {
			log.Warn("catalog listing failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("wait", wait))
		}
	})
	if err != nil {
		if !errors.Is(err, ErrCatalogLoad) {
			err = fmt.Errorf("%w: %w", ErrCatalogLoad, err)
		}
		return nil, err
	}
	return catalog, nil
}

// Len returns the number of timestamps.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.timestamps)
}

// At returns the timestamp at index.
func (c *Catalog) At(index int) (Timestamp, error) {
	n := c.Len()
	if index < 0 || index >= n {
		return "", indexError(index, n)
	}
	return c.timestamps[index], nil
}

// Scaling returns the scaling range for ts.
func (c *Catalog) Scaling(ts Timestamp) (ScalingRange, bool) {
	if c == nil {
		return ScalingRange{}, false
	}
	sr, ok := c.scaling[ts]
	return sr, ok
}

// Timestamps returns a copy of the ordered timestamps.
func (c *Catalog) Timestamps() []Timestamp {
	if c == nil {
		return nil
	}
	out := make([]Timestamp, len(c.timestamps))
	copy(out, c.timestamps)
	return out
}

// Entries returns the catalog as listing entries, in order.
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, c.Len())
	for _, ts := range c.Timestamps() {
		sr := c.scaling[ts]
		out = append(out, CatalogEntry{Datetime: string(ts), VMin: sr.Min, VMax: sr.Max})
	}
	return out
}
