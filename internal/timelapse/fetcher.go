package timelapse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMetadataTimeout bounds a single metadata fetch.
const DefaultMetadataTimeout = 10 * time.Second

// MetadataFetcher resolves the spatial bounds of a raster. Calls are
// independent; no deduplication happens here. A failed call has no side effects.
type MetadataFetcher interface {
	FetchBounds(ctx context.Context, rasterPath string) (Bounds, error)
}

// HTTPMetadataFetcher queries a COG info endpoint: GET <endpoint>?url=<rasterPath>.
type HTTPMetadataFetcher struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewHTTPMetadataFetcher returns a fetcher for endpoint. Non-positive timeout
// means DefaultMetadataTimeout; nil client means http.DefaultClient.
func NewHTTPMetadataFetcher(endpoint string, timeout time.Duration, client *http.Client) *HTTPMetadataFetcher {
	if timeout <= 0 {
		timeout = DefaultMetadataTimeout
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMetadataFetcher{endpoint: endpoint, timeout: timeout, client: client}
}

type infoResponse struct {
	Bounds []float64 `json:"bounds"`
}

// FetchBounds implements MetadataFetcher.FetchBounds. Errors are *MetadataError
// of kind ErrMetadataNotFound (404), ErrMetadataServer (other non-2xx or a bad
// payload) or ErrMetadataNetwork (transport failure or timeout).
func (f *HTTPMetadataFetcher) FetchBounds(ctx context.Context, rasterPath string) (Bounds, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	sep := "?"
	if strings.Contains(f.endpoint, "?") {
		sep = "&"
	}
	target := f.endpoint + sep + "url=" + url.QueryEscape(rasterPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Bounds{}, &MetadataError{Kind: ErrMetadataNetwork, Path: rasterPath, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Bounds{}, &MetadataError{Kind: ErrMetadataNetwork, Path: rasterPath, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Bounds{}, &MetadataError{Kind: ErrMetadataNotFound, Path: rasterPath, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Bounds{}, &MetadataError{Kind: ErrMetadataServer, Path: rasterPath, Status: resp.StatusCode}
	}

	var info infoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		if ctx.Err() != nil {
			return Bounds{}, &MetadataError{Kind: ErrMetadataNetwork, Path: rasterPath, Err: ctx.Err()}
		}
		return Bounds{}, &MetadataError{Kind: ErrMetadataServer, Path: rasterPath, Status: resp.StatusCode,
			Err: fmt.Errorf("decode info: %w", err)}
	}
	if len(info.Bounds) != 4 {
		return Bounds{}, &MetadataError{Kind: ErrMetadataServer, Path: rasterPath, Status: resp.StatusCode,
			Err: fmt.Errorf("bounds has %d values, want 4", len(info.Bounds))}
	}

	b := Bounds{info.Bounds[0], info.Bounds[1], info.Bounds[2], info.Bounds[3]}
	if !b.Valid() {
		return Bounds{}, &MetadataError{Kind: ErrMetadataServer, Path: rasterPath, Status: resp.StatusCode,
			Err: fmt.Errorf("invalid bounds %v", info.Bounds)}
	}
	return b, nil
}
