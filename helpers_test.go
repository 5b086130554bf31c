package zarr_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrjoshuak/go-blosc"
	"github.com/stretchr/testify/require"
)

// descriptor returns a .zarray document for a one-dimensional array
// compressed with blosc.
func descriptor(shape, chunks int, dtype, cname string, clevel, shuffle int) string {
	return fmt.Sprintf(`{
    "chunks": [%d],
    "compressor": {
        "blocksize": 0,
        "clevel": %d,
        "cname": %q,
        "id": "blosc",
        "shuffle": %d
    },
    "dtype": %q,
    "fill_value": 0,
    "filters": null,
    "order": "C",
    "shape": [%d],
    "zarr_format": 2
}`, chunks, clevel, cname, shuffle, dtype, shape)
}

// writeArray creates an array directory holding the descriptor and one
// blosc-lz4 compressed file per chunk.
func writeArray(t *testing.T, dir, zarray string, chunks [][]byte, typeSize int) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".zarray"), []byte(zarray), 0o644))
	for i, chunk := range chunks {
		compressed, err := blosc.Compress(chunk, blosc.LZ4, 5, blosc.NoShuffle, typeSize)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprint(i)), compressed, 0o644))
	}
}

// snapshot returns the name and content of every file under dir.
func snapshot(t *testing.T, dir string) map[string][]byte {
	t.Helper()

	files := map[string][]byte{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	require.NoError(t, err)
	return files
}

// tenBytes is the 10-element int8 array split into chunks of 3. The last
// chunk carries two bytes of padding, as zarr writes full chunks.
var tenBytes = [][]byte{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{9, 0xEE, 0xEE},
}
