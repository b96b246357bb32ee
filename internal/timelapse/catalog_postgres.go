package timelapse

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultDatetimeFormat renders acquisition times as 20060102T150405, the
// naming used for the raster files.
const DefaultDatetimeFormat = "20060102T150405"

const listMapsSQL = `SELECT acquisition_datetime, vmin, vmax FROM maps WHERE acquisition_datetime IS NOT NULL`

// PostgresCatalogSource lists timestamps from the ingest database's maps table.
// The pool is opened on first use, so an unreachable database is retried with
// the rest of the catalog load.
type PostgresCatalogSource struct {
	cfg    *pgxpool.Config
	layout string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// NewPostgresCatalogSource parses databaseURL without connecting. layout is a
// Go time layout for the datetime tokens; empty means DefaultDatetimeFormat.
func NewPostgresCatalogSource(databaseURL, layout string) (*PostgresCatalogSource, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse catalog database url: %w", err)
	}
	if layout == "" {
		layout = DefaultDatetimeFormat
	}
	return &PostgresCatalogSource{cfg: cfg, layout: layout}, nil
}

func (s *PostgresCatalogSource) connect(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect catalog database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	s.pool = pool
	return pool, nil
}

// List implements CatalogSource.List. Rows are ordered by their formatted
// datetime, matching the listing endpoint.
func (s *PostgresCatalogSource) List(ctx context.Context) ([]CatalogEntry, error) {
	pool, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listMapsSQL)
	if err != nil {
		return nil, fmt.Errorf("query maps: %w", err)
	}
	defer rows.Close()

	var entries []CatalogEntry
	for rows.Next() {
		var (
			at         time.Time
			vmin, vmax *float64
		)
		if err := rows.Scan(&at, &vmin, &vmax); err != nil {
			return nil, fmt.Errorf("scan maps row: %w", err)
		}
		if vmin == nil || vmax == nil {
			return nil, fmt.Errorf("maps row %s has no scaling range", at.Format(s.layout))
		}
		entries = append(entries, CatalogEntry{
			Datetime: at.Format(s.layout),
			VMin:     *vmin,
			VMax:     *vmax,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read maps: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Datetime < entries[j].Datetime
	})
	return entries, nil
}

// Close releases the pool if one was opened.
func (s *PostgresCatalogSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
