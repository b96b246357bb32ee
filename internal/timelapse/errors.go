package timelapse

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCatalog is returned by index-based operations on a catalog
	// that loaded successfully but holds no timestamps.
	ErrEmptyCatalog = errors.New("catalog is empty")

	// ErrIndexOutOfRange is returned for an index outside [0, len).
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrCatalogLoad is returned when the bulk listing cannot be fetched or is invalid.
	ErrCatalogLoad = errors.New("catalog load failed")

	// ErrMetadataNotFound means the metadata service has no such raster.
	ErrMetadataNotFound = errors.New("raster metadata not found")

	// ErrMetadataNetwork covers transport failures and timeouts.
	ErrMetadataNetwork = errors.New("raster metadata network error")

	// ErrMetadataServer covers non-2xx responses other than 404 and malformed payloads.
	ErrMetadataServer = errors.New("raster metadata server error")

	// ErrInvalidSelection is returned for an empty variable or an unknown colormap.
	ErrInvalidSelection = errors.New("invalid selection")
)

// MetadataError describes a failed metadata fetch. It matches its Kind with errors.Is.
type MetadataError struct {
	Kind   error
	Path   string
	Status int
	Err    error
}

func (e *MetadataError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%v: %s", e.Kind, e.Path)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is reports whether target is the error kind.
func (e *MetadataError) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *MetadataError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func indexError(index, length int) error {
	if length == 0 {
		return ErrEmptyCatalog
	}
	return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, index, length)
}
