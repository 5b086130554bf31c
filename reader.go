package zarr

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Reader reads the descriptor and chunks of a one-dimensional array
// stored in a local directory.
type Reader struct {
	path       string
	bucket     *blob.Bucket
	meta       *Metadata
	compressor Compressor
}

// NewReader opens the array directory at path, loads its descriptor and
// resolves its compressor. Nothing is written.
func NewReader(ctx context.Context, path string) (*Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open array: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to open array: %s is not a directory", path)
	}

	bucket, err := fileblob.OpenBucket(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	meta, err := ReadMetadata(ctx, bucket)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to load metadata of %s: %w", path, err)
	}

	compressor, err := Resolve(*meta.Compressor)
	if err != nil {
		bucket.Close()
		return nil, fmt.Errorf("failed to resolve compressor of %s: %w", path, err)
	}

	log.Debugf("Opened array %s: shape=%v chunks=%v dtype=%s compressor=%s",
		path, meta.Shape, meta.Chunks, meta.DType, meta.Compressor)

	return &Reader{
		path:       path,
		bucket:     bucket,
		meta:       meta,
		compressor: compressor,
	}, nil
}

// ReadChunk reads and decompresses the chunk at index. A missing chunk
// file is an error; there is no fill value substitution.
func (r *Reader) ReadChunk(ctx context.Context, index int) ([]byte, error) {
	key := ChunkKey(index)

	chunkData, err := r.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: chunk %s of %s", ErrNotFound, key, r.path)
		}
		return nil, fmt.Errorf("failed to read chunk %s: %w", key, err)
	}

	chunkData, err = r.compressor.Decompress(chunkData)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk %s: %w", key, err)
	}
	return chunkData, nil
}

// Chunks returns an iterator over every chunk of the array in index order.
func (r *Reader) Chunks(ctx context.Context) *ChunkIterator {
	return &ChunkIterator{
		ctx:    ctx,
		reader: r,
		count:  ChunkCount(r.meta.Shape[0], r.meta.Chunks[0]),
	}
}

// ChunkIterator yields decompressed chunks lazily, one file per call.
// It is forward-only and cannot be restarted; after the first error every
// call returns that error.
type ChunkIterator struct {
	ctx    context.Context
	reader *Reader
	next   int
	count  int
	err    error
}

// Len returns the total number of chunks the iterator yields.
func (it *ChunkIterator) Len() int {
	return it.count
}

// Index returns the index of the chunk the next call to Next reads.
func (it *ChunkIterator) Index() int {
	return it.next
}

// Next returns the next decompressed chunk.
// Returns io.EOF once every chunk has been read.
func (it *ChunkIterator) Next() ([]byte, error) {
	if it.err != nil {
		return nil, it.err
	}
	if it.next >= it.count {
		return nil, io.EOF
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return nil, err
	}

	index := it.next
	it.next++

	chunk, err := it.reader.ReadChunk(it.ctx, index)
	if err != nil {
		it.err = err
		return nil, err
	}
	log.Debugf("Read chunk %d/%d of %s (%d bytes)", index+1, it.count, it.reader.path, len(chunk))
	return chunk, nil
}

// Path returns the array directory.
func (r *Reader) Path() string {
	return r.path
}

func (r *Reader) Metadata() *Metadata {
	return r.meta
}

func (r *Reader) Compressor() Compressor {
	return r.compressor
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.bucket.Close()
}
