package zarr_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	zarr "github.com/TuSKan/zarr-dechunk"
)

func TestReader_Chunks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a.zarr")
	writeArray(t, dir, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)

	ctx := context.Background()
	reader, err := zarr.NewReader(ctx, dir)
	require.NoError(t, err)
	defer reader.Close()

	it := reader.Chunks(ctx)
	require.Equal(t, 4, it.Len())

	var got [][]byte
	for {
		chunk, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk)
	}
	require.Equal(t, tenBytes, got)

	// Exhausted iterators stay exhausted.
	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_ChunksAreLazy(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a.zarr")
	writeArray(t, dir, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)

	ctx := context.Background()
	reader, err := zarr.NewReader(ctx, dir)
	require.NoError(t, err)
	defer reader.Close()

	it := reader.Chunks(ctx)
	first, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, tenBytes[0], first)

	// Chunk 2 is only read when requested, so removing it now is noticed.
	require.NoError(t, os.Remove(filepath.Join(dir, "2")))

	second, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, tenBytes[1], second)

	_, err = it.Next()
	require.ErrorIs(t, err, zarr.ErrNotFound)

	// The failure ends the sequence.
	_, err = it.Next()
	require.ErrorIs(t, err, zarr.ErrNotFound)
	require.Equal(t, 3, it.Index())
}

func TestReader_CorruptChunk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a.zarr")
	writeArray(t, dir, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1"), []byte("not blosc"), 0o644))

	ctx := context.Background()
	reader, err := zarr.NewReader(ctx, dir)
	require.NoError(t, err)
	defer reader.Close()

	_, err = reader.ReadChunk(ctx, 0)
	require.NoError(t, err)
	_, err = reader.ReadChunk(ctx, 1)
	require.ErrorContains(t, err, "failed to decompress chunk 1")
}

func TestReader_Cancelled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a.zarr")
	writeArray(t, dir, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)

	reader, err := zarr.NewReader(context.Background(), dir)
	require.NoError(t, err)
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reader.Chunks(ctx).Next()
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewReader_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := zarr.NewReader(ctx, filepath.Join(t.TempDir(), "missing.zarr"))
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := t.TempDir()
	_, err = zarr.NewReader(ctx, empty)
	require.ErrorIs(t, err, zarr.ErrNotFound)

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, ".zarray"), []byte(descriptor(10, 3, "<i1", "lz5", 5, 0)), 0o644))
	_, err = zarr.NewReader(ctx, bad)
	require.ErrorIs(t, err, zarr.ErrUnsupportedConfig)
}
