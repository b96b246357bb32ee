package timelapse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CatalogSource supplies the bulk timestamp listing.
// Implementations can be in-memory, HTTP, or database backed; the Catalog
// does not need to know which one is used.
type CatalogSource interface {
	List(ctx context.Context) ([]CatalogEntry, error)
}

// StaticCatalogSource is an in-memory CatalogSource.
type StaticCatalogSource struct {
	entries []CatalogEntry
}

// NewStaticCatalogSource returns a source that always lists a copy of entries.
func NewStaticCatalogSource(entries ...CatalogEntry) *StaticCatalogSource {
	cp := make([]CatalogEntry, len(entries))
	copy(cp, entries)
	return &StaticCatalogSource{entries: cp}
}

// List implements CatalogSource.List.
func (s *StaticCatalogSource) List(ctx context.Context) ([]CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]CatalogEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// HTTPStatusError is a non-2xx response from a listing endpoint.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// HTTPCatalogSource lists timestamps from a JSON endpoint returning
// [{"datetime": ..., "vmin": ..., "vmax": ...}, ...]. An empty array is valid.
type HTTPCatalogSource struct {
	url    string
	client *http.Client
}

// NewHTTPCatalogSource returns a source for url. A nil client gets a 30s timeout.
func NewHTTPCatalogSource(url string, client *http.Client) *HTTPCatalogSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCatalogSource{url: url, client: client}
}

// List implements CatalogSource.List.
func (s *HTTPCatalogSource) List(ctx context.Context) ([]CatalogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{URL: s.url, Status: resp.StatusCode}
	}

	var entries []CatalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return entries, nil
}
