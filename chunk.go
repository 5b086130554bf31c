package zarr

import "strconv"

// ChunkCount returns the number of chunks of a one-dimensional array,
// ceil(shape / chunks), counting a final partial chunk.
func ChunkCount(shape, chunks int) int {
	if shape <= 0 || chunks <= 0 {
		return 0
	}
	return (shape + chunks - 1) / chunks
}

// ChunkKey generates the key for the chunk at index: the decimal index with
// no padding or separator, e.g. 10 -> "10".
func ChunkKey(index int) string {
	return strconv.Itoa(index)
}
