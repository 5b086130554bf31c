package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// MetadataKey is the name of the array descriptor inside an array directory.
const MetadataKey = ".zarray"

// ZarrFormat is the only supported storage specification version.
const ZarrFormat = 2

// Order is the layout of bytes within a chunk. For one-dimensional arrays
// both orders are the same layout; the value is carried through unchanged.
type Order string

const (
	OrderC Order = "C"
	OrderF Order = "F"
)

// Metadata represents the Zarr V2 .zarray metadata of a one-dimensional array.
//
// FillValue and Filters hold the descriptor's raw JSON and are never
// interpreted; they are written back as loaded.
type Metadata struct {
	Chunks             []int             `json:"chunks"`
	Compressor         *CompressorConfig `json:"compressor"`
	DType              string            `json:"dtype"`
	FillValue          json.RawMessage   `json:"fill_value"`
	Filters            json.RawMessage   `json:"filters"`
	Order              Order             `json:"order"`
	Shape              []int             `json:"shape"`
	ZarrFormat         int               `json:"zarr_format"`
	DimensionSeparator string            `json:"dimension_separator,omitempty"`
}

// LoadMetadata reads and validates a .zarray descriptor.
func LoadMetadata(reader io.Reader) (*Metadata, error) {
	var meta Metadata
	if err := json.NewDecoder(reader).Decode(&meta); err != nil {
		if errors.Is(err, ErrUnsupportedConfig) {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		return nil, fmt.Errorf("%w: failed to decode metadata: %w", ErrInvalidMetadata, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// ReadMetadata reads the descriptor of the array stored in bucket.
func ReadMetadata(ctx context.Context, bucket *blob.Bucket) (*Metadata, error) {
	reader, err := bucket.NewReader(ctx, MetadataKey, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: missing %s", ErrNotFound, MetadataKey)
		}
		return nil, fmt.Errorf("failed to open %s: %w", MetadataKey, err)
	}
	defer reader.Close()

	return LoadMetadata(reader)
}

// Validate checks the schema constraints the dechunker relies on.
func (m *Metadata) Validate() error {
	if m.ZarrFormat != ZarrFormat {
		return fmt.Errorf("%w: unsupported zarr_format: %d, expected %d", ErrInvalidMetadata, m.ZarrFormat, ZarrFormat)
	}
	if len(m.Shape) != 1 {
		return fmt.Errorf("%w: shape %v is not one-dimensional", ErrInvalidMetadata, m.Shape)
	}
	if len(m.Chunks) != 1 {
		return fmt.Errorf("%w: chunks %v is not one-dimensional", ErrInvalidMetadata, m.Chunks)
	}
	if m.Shape[0] <= 0 || m.Chunks[0] <= 0 {
		return fmt.Errorf("%w: shape %v and chunks %v must be positive", ErrInvalidMetadata, m.Shape, m.Chunks)
	}
	if m.DType == "" {
		return fmt.Errorf("%w: missing dtype", ErrInvalidMetadata)
	}
	if m.Compressor == nil {
		return fmt.Errorf("%w: missing compressor", ErrInvalidMetadata)
	}
	if m.Order != OrderC && m.Order != OrderF {
		return fmt.Errorf("%w: order %q, expected C or F", ErrInvalidMetadata, m.Order)
	}
	return nil
}

// SingleChunk returns a copy of m whose only chunk spans the whole array.
func (m Metadata) SingleChunk() Metadata {
	out := m
	out.Chunks = slices.Clone(m.Shape)
	out.Shape = slices.Clone(m.Shape)
	if m.Compressor != nil {
		c := *m.Compressor
		out.Compressor = &c
	}
	out.FillValue = bytes.Clone(m.FillValue)
	out.Filters = bytes.Clone(m.Filters)
	return out
}

// Marshal encodes m as an indented .zarray document. HTML escaping is off
// so dtypes keep their literal "<" and ">".
func (m Metadata) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return buf.Bytes(), nil
}
