package zarr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
)

// Options configures a Dechunker.
type Options struct {
	// Swapper commits the result. Nil uses DefaultSwapper.
	Swapper *Swapper

	// DryRun stops after recompression; nothing on disk changes.
	DryRun bool

	// OnChunk, if set, is called after each chunk is read with the number
	// of chunks read so far and the total.
	OnChunk func(done, total int)
}

// Result describes a finished conversion.
type Result struct {
	Path string

	// Chunks is the number of chunk files read.
	Chunks int

	// DecodedBytes is the logical array size, shape * item size.
	DecodedBytes int

	// PaddingBytes is how much trailing chunk padding was discarded.
	PaddingBytes int

	CompressedBytes int

	// Metadata is the single-chunk descriptor that was (or, for a dry
	// run, would have been) written.
	Metadata Metadata

	DryRun bool
}

// Dechunker converts a chunked array into a single-chunk array.
type Dechunker struct {
	reader *Reader
	opts   Options
}

// NewDechunker returns a Dechunker for the array opened by reader.
func NewDechunker(reader *Reader, opts Options) *Dechunker {
	if opts.Swapper == nil {
		opts.Swapper = DefaultSwapper()
	}
	return &Dechunker{reader: reader, opts: opts}
}

// Dechunk opens the array at path, converts it and closes it.
func Dechunk(ctx context.Context, path string, opts Options) (*Result, error) {
	reader, err := NewReader(ctx, path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return NewDechunker(reader, opts).Dechunk(ctx)
}

// Dechunk reads every chunk, trims the concatenation to the array's
// logical size, recompresses it as one chunk and replaces the array
// directory. The directory is untouched if anything fails before the swap.
func (d *Dechunker) Dechunk(ctx context.Context) (*Result, error) {
	meta := d.reader.Metadata()

	itemSize, err := ItemSize(meta.DType)
	if err != nil {
		return nil, err
	}
	if meta.Shape[0] > math.MaxInt/itemSize {
		return nil, fmt.Errorf("%w: shape %v of %s overflows the addressable size",
			ErrInvalidMetadata, meta.Shape, meta.DType)
	}
	totalBytes := meta.Shape[0] * itemSize

	data, chunks, err := d.concat(ctx)
	if err != nil {
		return nil, err
	}
	if len(data) < totalBytes {
		return nil, fmt.Errorf("%w: %d bytes from %d chunks, expected at least %d",
			ErrSizeInvariant, len(data), chunks, totalBytes)
	}
	padding := len(data) - totalBytes
	data = data[:totalBytes]

	compressed, err := d.reader.Compressor().Compress(data, itemSize)
	if err != nil {
		return nil, fmt.Errorf("failed to compress single chunk: %w", err)
	}

	result := &Result{
		Path:            d.reader.Path(),
		Chunks:          chunks,
		DecodedBytes:    totalBytes,
		PaddingBytes:    padding,
		CompressedBytes: len(compressed),
		Metadata:        meta.SingleChunk(),
		DryRun:          d.opts.DryRun,
	}
	log.Debugf("Dechunked %s: %d chunks, %d bytes (%d padding), %d compressed",
		result.Path, chunks, totalBytes, padding, len(compressed))

	if d.opts.DryRun {
		return result, nil
	}

	if err := d.opts.Swapper.Commit(d.reader.Path(), compressed, result.Metadata); err != nil {
		return nil, err
	}
	return result, nil
}

// concat drains the chunk iterator into one buffer. The buffer grows with
// the data read; shape and chunks in the descriptor are not trusted for
// sizing it.
func (d *Dechunker) concat(ctx context.Context) ([]byte, int, error) {
	it := d.reader.Chunks(ctx)

	var out []byte
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		out = append(out, chunk...)
		if d.opts.OnChunk != nil {
			d.opts.OnChunk(it.Index(), it.Len())
		}
	}
	return out, it.Len(), nil
}
